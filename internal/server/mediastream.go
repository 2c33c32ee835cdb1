package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/coder/websocket"

	"github.com/HeckSmart/multilingual-voiceagent/internal/telephony"
	"github.com/HeckSmart/multilingual-voiceagent/internal/turnloop"
	"github.com/HeckSmart/multilingual-voiceagent/pkg/audio"
	"github.com/HeckSmart/multilingual-voiceagent/pkg/dialog"
)

const (
	// streamWriteTimeout bounds one outbound frame write so a stalled
	// carrier cannot wedge the reply pump.
	streamWriteTimeout = 10 * time.Second

	// playbackGrace is how long a finished call holds its socket open
	// waiting for the carrier to confirm the farewell played. Closing
	// earlier cuts the line mid-sentence.
	playbackGrace = 15 * time.Second
)

// handleMediaStream upgrades the carrier connection and runs one
// media-stream session over it.
func (s *Server) handleMediaStream(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		s.log.WarnContext(r.Context(), "media stream upgrade failed", slog.String("error", err.Error()))
		return
	}

	sess := &streamSession{
		srv:        s,
		conn:       conn,
		markEchoed: make(chan struct{}, 1),
	}
	sess.run(r.Context())
}

// streamSession is the per-connection state of one live media stream. The
// read loop (run) and the reply pump are its only goroutines; everything
// mutable is owned by exactly one of them.
type streamSession struct {
	srv    *Server
	conn   *websocket.Conn
	cancel context.CancelFunc

	callKey   string
	streamSID string
	format    telephony.MediaFormat
	opus      *audio.OpusDecoder
	opusEnc   *audio.OpusEncoder
	ctl       *turnloop.Controller

	wg    sync.WaitGroup
	marks int

	// awaitMark names the playback mark the pump is waiting on at call end;
	// the read loop signals markEchoed when the carrier confirms it.
	awaitMark  atomic.Pointer[string]
	markEchoed chan struct{}
}

// run owns the read side of the socket. Teardown order matters: cancel
// unblocks the pump, stopping the call closes the utterance channel so the
// pump drains, and only then does the socket close.
func (sess *streamSession) run(parent context.Context) {
	ctx, cancel := context.WithCancel(parent)
	sess.cancel = cancel

	defer func() {
		if sess.callKey != "" {
			if err := sess.srv.calls.Stop(sess.callKey); err != nil {
				// Shutdown already reaped the call.
				sess.srv.log.Debug("stream call already stopped", slog.String("call_key", sess.callKey))
			}
		}
		sess.wg.Wait()
		sess.conn.Close(websocket.StatusNormalClosure, "")
	}()
	defer cancel()

	for {
		typ, data, err := sess.conn.Read(ctx)
		if err != nil {
			sess.logReadEnd(ctx, err)
			return
		}
		if typ != websocket.MessageText {
			continue
		}

		ev, err := telephony.ParseEvent(data)
		if err != nil {
			sess.srv.log.WarnContext(ctx, "bad stream event", slog.String("error", err.Error()))
			continue
		}

		switch ev.Event {
		case telephony.EventConnected:
			// Protocol preamble; the start event carries the real setup.

		case telephony.EventStart:
			if err := sess.handleStart(ctx, ev); err != nil {
				sess.srv.log.ErrorContext(ctx, "stream start rejected", slog.String("error", err.Error()))
				sess.conn.Close(websocket.StatusPolicyViolation, "bad start event")
				return
			}

		case telephony.EventMedia:
			sess.handleMedia(ctx, ev)

		case telephony.EventMark:
			if ev.Mark == nil {
				continue
			}
			if want := sess.awaitMark.Load(); want != nil && ev.Mark.Name == *want {
				select {
				case sess.markEchoed <- struct{}{}:
				default:
				}
			}

		case telephony.EventStop:
			sess.srv.log.InfoContext(ctx, "stream stopped by carrier", slog.String("call_key", sess.callKey))
			return

		default:
			sess.srv.log.DebugContext(ctx, "unhandled stream event", slog.String("event", ev.Event))
		}
	}
}

// logReadEnd classifies why the read loop exited.
func (sess *streamSession) logReadEnd(ctx context.Context, err error) {
	switch websocket.CloseStatus(err) {
	case websocket.StatusNormalClosure, websocket.StatusGoingAway:
		sess.srv.log.InfoContext(ctx, "stream closed", slog.String("call_key", sess.callKey))
	default:
		if ctx.Err() != nil {
			sess.srv.log.InfoContext(ctx, "stream ended", slog.String("call_key", sess.callKey))
			return
		}
		sess.srv.log.WarnContext(ctx, "stream read failed",
			slog.String("call_key", sess.callKey),
			slog.String("error", err.Error()),
		)
	}
}

// handleStart validates the negotiated media format and begins the call
// loop. Session fields are only assigned once the call registered, so a
// rejected start never tears down another connection's call.
func (sess *streamSession) handleStart(ctx context.Context, ev telephony.Event) error {
	if sess.ctl != nil {
		return errors.New("server: stream already started")
	}
	if ev.Start == nil {
		return errors.New("server: start event has no payload")
	}

	streamSID := ev.Start.StreamSID
	if streamSID == "" {
		streamSID = ev.StreamSID
	}
	key := ev.Start.CallSID
	if key == "" {
		key = streamSID
	}
	if key == "" {
		return errors.New("server: start event names no call or stream id")
	}

	format := ev.Start.MediaFormat.Normalize()
	var dec *audio.OpusDecoder
	switch format.Encoding {
	case telephony.EncodingMuLaw, telephony.EncodingL16:
	case telephony.EncodingOpus:
		var err error
		dec, err = audio.NewOpusDecoder(format.SampleRate, format.Channels)
		if err != nil {
			return err
		}
	default:
		return fmt.Errorf("server: unsupported media encoding %q", format.Encoding)
	}

	lang := sess.srv.defaultLang
	if v := ev.Start.CustomParameters["language"]; v != "" {
		lang = dialog.ParseLanguage(v)
	}

	ctl, err := sess.srv.calls.Start(ctx, key, turnloop.Config{Language: lang})
	if err != nil {
		return fmt.Errorf("server: start call: %w", err)
	}

	sess.streamSID = streamSID
	sess.callKey = key
	sess.format = format
	sess.opus = dec
	sess.ctl = ctl

	sess.wg.Add(1)
	go sess.pump(ctx)
	return nil
}

// handleMedia feeds one inbound chunk to the call loop.
func (sess *streamSession) handleMedia(ctx context.Context, ev telephony.Event) {
	if sess.ctl == nil || ev.Media == nil {
		return
	}

	raw, err := ev.Media.Audio()
	if err != nil {
		sess.srv.log.WarnContext(ctx, "bad media payload", slog.String("error", err.Error()))
		return
	}
	pcm, err := sess.inboundPCM(raw)
	if err != nil {
		sess.srv.log.WarnContext(ctx, "decode media payload", slog.String("error", err.Error()))
		return
	}

	// The carrier keeps streaming briefly after the loop ends; those chunks
	// are dropped.
	_ = sess.ctl.Ingest(pcm)
}

// inboundPCM converts one carrier chunk into the mono 16 kHz little-endian
// PCM the call loop consumes.
func (sess *streamSession) inboundPCM(raw []byte) ([]byte, error) {
	var pcm []byte
	switch sess.format.Encoding {
	case telephony.EncodingMuLaw:
		pcm = audio.DecodeMuLaw(raw)
	case telephony.EncodingL16:
		pcm = raw
	case telephony.EncodingOpus:
		out, err := sess.opus.Decode(raw)
		if err != nil {
			return nil, err
		}
		pcm = out
	default:
		return nil, fmt.Errorf("server: unsupported media encoding %q", sess.format.Encoding)
	}

	if sess.format.Channels == 2 {
		pcm = audio.StereoToMono(pcm)
	}
	return audio.ResampleMono16(pcm, sess.format.SampleRate, turnloop.DefaultSampleRate), nil
}

// pump streams every completed turn back to the carrier. When the call ends
// on its own it holds the socket open until the farewell finished playing,
// then cancels the read loop.
func (sess *streamSession) pump(ctx context.Context) {
	defer sess.wg.Done()
	defer sess.cancel()

	var lastMark string
	var ended bool
	for res := range sess.ctl.Utterances() {
		if mark, ok := sess.writeResult(ctx, res); ok {
			lastMark = mark
		}
		if res.Turn.ShouldEnd {
			ended = true
		}
	}

	if ended && lastMark != "" {
		sess.holdForPlayback(ctx, lastMark)
	}
}

// holdForPlayback waits for the carrier to confirm the named mark played.
func (sess *streamSession) holdForPlayback(ctx context.Context, mark string) {
	sess.awaitMark.Store(&mark)
	select {
	case <-sess.markEchoed:
	case <-time.After(playbackGrace):
		sess.srv.log.Warn("carrier never confirmed final playback",
			slog.String("call_key", sess.callKey),
			slog.String("mark", mark),
		)
	case <-ctx.Done():
	}
}

// writeResult ships one spoken turn to the carrier as media frames followed
// by a playback mark, and reports the mark's name.
func (sess *streamSession) writeResult(ctx context.Context, res turnloop.VoiceResult) (string, bool) {
	if len(res.Audio) == 0 {
		return "", false
	}
	if !rawPCM(res.MIMEType) {
		sess.srv.log.WarnContext(ctx, "synthesized clip is not raw PCM, dropping audio",
			slog.String("mime_type", res.MIMEType),
		)
		return "", false
	}
	rate := res.SampleRate
	if rate <= 0 {
		rate = turnloop.DefaultSampleRate
	}

	var payloads [][]byte
	switch sess.format.Encoding {
	case telephony.EncodingMuLaw:
		payloads = [][]byte{audio.EncodeMuLaw(audio.ResampleMono16(res.Audio, rate, sess.format.SampleRate))}
	case telephony.EncodingL16:
		pcm := audio.ResampleMono16(res.Audio, rate, sess.format.SampleRate)
		if sess.format.Channels == 2 {
			pcm = audio.MonoToStereo(pcm)
		}
		payloads = [][]byte{pcm}
	case telephony.EncodingOpus:
		var err error
		payloads, err = sess.opusPayloads(res.Audio, rate)
		if err != nil {
			sess.srv.log.WarnContext(ctx, "opus encode failed, dropping audio", slog.String("error", err.Error()))
			return "", false
		}
	}

	sess.marks++
	mark := fmt.Sprintf("reply-%d", sess.marks)

	frames := make([]telephony.Event, 0, len(payloads)+1)
	for _, p := range payloads {
		frames = append(frames, telephony.MediaFrame(sess.streamSID, p))
	}
	frames = append(frames, telephony.MarkFrame(sess.streamSID, mark))

	wctx, cancel := context.WithTimeout(ctx, streamWriteTimeout)
	defer cancel()
	for _, fr := range frames {
		data, err := json.Marshal(fr)
		if err != nil {
			sess.srv.log.ErrorContext(ctx, "encode stream frame", slog.String("error", err.Error()))
			return "", false
		}
		if err := sess.conn.Write(wctx, websocket.MessageText, data); err != nil {
			sess.srv.log.WarnContext(ctx, "stream write failed",
				slog.String("call_key", sess.callKey),
				slog.String("error", err.Error()),
			)
			return "", false
		}
	}
	return mark, true
}

// opusPayloads splits a reply clip into 20 ms frames and encodes each as one
// opus packet. The encoder is created on first use and reused for the
// stream's lifetime to keep its state continuous.
func (sess *streamSession) opusPayloads(pcm []byte, rate int) ([][]byte, error) {
	if sess.opusEnc == nil {
		enc, err := audio.NewOpusEncoder(sess.format.SampleRate, sess.format.Channels)
		if err != nil {
			return nil, err
		}
		sess.opusEnc = enc
	}

	pcm = audio.ResampleMono16(pcm, rate, sess.format.SampleRate)
	if sess.format.Channels == 2 {
		pcm = audio.MonoToStereo(pcm)
	}

	frameBytes := sess.format.SampleRate / 50 * 2 * sess.format.Channels
	payloads := make([][]byte, 0, (len(pcm)+frameBytes-1)/frameBytes)
	for off := 0; off < len(pcm); off += frameBytes {
		frame := pcm[off:min(off+frameBytes, len(pcm))]
		if len(frame) < frameBytes {
			padded := make([]byte, frameBytes)
			copy(padded, frame)
			frame = padded
		}
		pkt, err := sess.opusEnc.Encode(frame)
		if err != nil {
			return nil, err
		}
		payloads = append(payloads, pkt)
	}
	return payloads, nil
}

// rawPCM reports whether a synthesized clip is raw 16-bit PCM the stream can
// re-encode. Container formats would need demuxing first.
func rawPCM(mime string) bool {
	switch mime {
	case "", "audio/pcm", "audio/l16", "audio/x-raw":
		return true
	}
	return false
}
