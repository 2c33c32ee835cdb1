package telephony_test

import (
	"encoding/base64"
	"encoding/json"
	"testing"

	"github.com/HeckSmart/multilingual-voiceagent/internal/telephony"
)

func TestParseEvent_Start(t *testing.T) {
	t.Parallel()

	raw := `{
		"event": "start",
		"sequenceNumber": "1",
		"streamSid": "MZ0123",
		"start": {
			"accountSid": "AC9999",
			"streamSid": "MZ0123",
			"callSid": "CA4567",
			"tracks": ["inbound"],
			"mediaFormat": {"encoding": "audio/x-mulaw", "sampleRate": 8000, "channels": 1},
			"customParameters": {"language": "hi"}
		}
	}`

	ev, err := telephony.ParseEvent([]byte(raw))
	if err != nil {
		t.Fatalf("ParseEvent: %v", err)
	}
	if ev.Event != telephony.EventStart || ev.StreamSID != "MZ0123" {
		t.Errorf("envelope = %q/%q", ev.Event, ev.StreamSID)
	}
	if ev.Start == nil {
		t.Fatal("start payload missing")
	}
	if ev.Start.CallSID != "CA4567" {
		t.Errorf("call sid = %q", ev.Start.CallSID)
	}
	if got := ev.Start.MediaFormat; got.Encoding != telephony.EncodingMuLaw || got.SampleRate != 8000 || got.Channels != 1 {
		t.Errorf("media format = %+v", got)
	}
	if got := ev.Start.CustomParameters["language"]; got != "hi" {
		t.Errorf("language parameter = %q", got)
	}
}

func TestParseEvent_MediaAudio(t *testing.T) {
	t.Parallel()

	audio := []byte{0x7f, 0x00, 0xff, 0x80}
	raw := `{"event":"media","streamSid":"MZ1","media":{"track":"inbound","chunk":"2","timestamp":"160","payload":"` +
		base64.StdEncoding.EncodeToString(audio) + `"}}`

	ev, err := telephony.ParseEvent([]byte(raw))
	if err != nil {
		t.Fatalf("ParseEvent: %v", err)
	}
	if ev.Media == nil {
		t.Fatal("media payload missing")
	}
	got, err := ev.Media.Audio()
	if err != nil {
		t.Fatalf("Audio: %v", err)
	}
	if string(got) != string(audio) {
		t.Errorf("audio = %v, want %v", got, audio)
	}
}

func TestParseEvent_Invalid(t *testing.T) {
	t.Parallel()

	if _, err := telephony.ParseEvent([]byte(`{"streamSid":"MZ1"}`)); err == nil {
		t.Error("missing event field accepted")
	}
	if _, err := telephony.ParseEvent([]byte(`{not json`)); err == nil {
		t.Error("malformed JSON accepted")
	}
	if _, err := (telephony.MediaPayload{Payload: "%%%"}).Audio(); err == nil {
		t.Error("malformed base64 payload accepted")
	}
}

func TestOutboundFrames(t *testing.T) {
	t.Parallel()

	audio := []byte{1, 2, 3, 4}
	frame := telephony.MediaFrame("MZ7", audio)
	data, err := json.Marshal(frame)
	if err != nil {
		t.Fatalf("marshal media frame: %v", err)
	}
	back, err := telephony.ParseEvent(data)
	if err != nil {
		t.Fatalf("ParseEvent: %v", err)
	}
	if back.Event != telephony.EventMedia || back.StreamSID != "MZ7" {
		t.Errorf("envelope = %q/%q", back.Event, back.StreamSID)
	}
	decoded, err := back.Media.Audio()
	if err != nil {
		t.Fatalf("Audio: %v", err)
	}
	if string(decoded) != string(audio) {
		t.Errorf("audio = %v, want %v", decoded, audio)
	}

	mark := telephony.MarkFrame("MZ7", "reply-1")
	if mark.Event != telephony.EventMark || mark.Mark == nil || mark.Mark.Name != "reply-1" {
		t.Errorf("mark frame = %+v", mark)
	}
	flush := telephony.ClearFrame("MZ7")
	if flush.Event != telephony.EventClear || flush.StreamSID != "MZ7" {
		t.Errorf("clear frame = %+v", flush)
	}
}

func TestMediaFormat_Normalize(t *testing.T) {
	t.Parallel()

	got := telephony.MediaFormat{}.Normalize()
	want := telephony.MediaFormat{Encoding: telephony.EncodingMuLaw, SampleRate: 8000, Channels: 1}
	if got != want {
		t.Errorf("Normalize() = %+v, want %+v", got, want)
	}

	keep := telephony.MediaFormat{Encoding: telephony.EncodingL16, SampleRate: 16000, Channels: 1}
	if got := keep.Normalize(); got != keep {
		t.Errorf("Normalize() = %+v, want unchanged %+v", got, keep)
	}
}
