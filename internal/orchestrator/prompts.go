package orchestrator

import (
	"bytes"
	"fmt"
	"hash/fnv"
	"os"
	"sort"

	"gopkg.in/yaml.v3"

	"github.com/HeckSmart/multilingual-voiceagent/pkg/dialog"
)

// PromptKind names one bucket of canned bot lines. The wire values double as
// the keys of the YAML override file.
type PromptKind string

const (
	// PromptGreeting opens a session (voice loop GREETING state, telephony
	// webhook).
	PromptGreeting PromptKind = "greeting"

	// PromptClarification answers a low-confidence utterance.
	PromptClarification PromptKind = "clarification"

	// PromptRephrase answers an utterance with no latched intent.
	PromptRephrase PromptKind = "rephrase"

	// PromptAskLocation elicits the location slot.
	PromptAskLocation PromptKind = "ask_location"

	// PromptAskDateRange elicits the date_range slot.
	PromptAskDateRange PromptKind = "ask_date_range"

	// PromptProactive re-engages a silent caller.
	PromptProactive PromptKind = "proactive"

	// PromptNoResponseEnd is the final line before a silent session ends.
	PromptNoResponseEnd PromptKind = "no_response_end"

	// PromptFarewell closes a completed session.
	PromptFarewell PromptKind = "farewell"

	// PromptApology answers a turn lost to an adapter failure.
	PromptApology PromptKind = "apology"

	// PromptEscalationAck confirms the handoff to a human agent.
	PromptEscalationAck PromptKind = "escalation_ack"
)

// promptKinds lists every bucket, used to validate override files.
var promptKinds = []PromptKind{
	PromptGreeting,
	PromptClarification,
	PromptRephrase,
	PromptAskLocation,
	PromptAskDateRange,
	PromptProactive,
	PromptNoResponseEnd,
	PromptFarewell,
	PromptApology,
	PromptEscalationAck,
}

func (k PromptKind) valid() bool {
	for _, known := range promptKinds {
		if k == known {
			return true
		}
	}
	return false
}

// builtinPrompts holds the shipped prompt tables. The register is
// intentionally casual and mirrors how drivers actually talk to support.
var builtinPrompts = map[dialog.Language]map[PromptKind][]string{
	dialog.LanguageEN: {
		PromptGreeting: {
			"Hello! How can I help you today?",
			"Hey! What do you need?",
			"Hi! How can I help?",
		},
		PromptClarification: {
			"Sorry, didn't catch that. Can you repeat?",
			"I'm sorry, I didn't quite catch that. Could you please repeat?",
			"Didn't get it, can you say it again?",
		},
		PromptRephrase: {
			"What do you need? Station or something else?",
			"Tell me, what do you want?",
			"What are you looking for? Station?",
		},
		PromptAskLocation: {
			"Sure, where are you?",
			"Okay, what's your location?",
			"Tell me, where are you?",
		},
		PromptAskDateRange: {
			"Which day?",
			"What date?",
			"When do you want to see?",
		},
		PromptProactive: {
			"Hello? I'm listening, go ahead?",
			"Are you there?",
			"What do you need?",
			"I'm here, what's up?",
		},
		PromptNoResponseEnd: {
			"If you need help, speak up. Otherwise, I'll end the call.",
		},
		PromptFarewell: {
			"Thanks for calling, bye!",
			"Alright, take care!",
		},
		PromptApology: {
			"Sorry, something went wrong on my side. Can you say that again?",
			"My bad, that didn't work. One more time?",
		},
		PromptEscalationAck: {
			"Okay, connecting you to an agent, hold on",
			"Let me connect you to someone who can help, wait a sec",
			"Transferring to agent, stay on the line",
		},
	},
	dialog.LanguageHI: {
		PromptGreeting: {
			"नमस्ते! बताओ क्या help चाहिए?",
			"हैलो! क्या चाहिए?",
			"हैलो! क्या जरूरत है?",
		},
		PromptClarification: {
			"अरे, साफ नहीं सुनाई दिया। दोबारा बोलो?",
			"क्या फिर से बोल सकते हो?",
			"समझ नहीं आया, थोड़ा साफ बोलो?",
		},
		PromptRephrase: {
			"क्या चाहिए? Station चाहिए या कुछ और?",
			"बताओ, क्या help चाहिए?",
			"क्या जरूरत है? Station या swap history?",
		},
		PromptAskLocation: {
			"ठीक है, बताओ कहाँ हो?",
			"चलो, किस जगह पर हो?",
			"बताओ location क्या है?",
		},
		PromptAskDateRange: {
			"किस दिन का देखना है?",
			"कब का history चाहिए?",
			"बताओ किस date का?",
		},
		PromptProactive: {
			"हैलो? सुन रहा हूं, बोलो?",
			"क्या वहाँ हो?",
			"बताओ, क्या चाहिए?",
			"यहाँ हूं, बोलो क्या help चाहिए?",
		},
		PromptNoResponseEnd: {
			"अगर help चाहिए तो बोलो, वरना call बंद कर रहा हूं",
		},
		PromptFarewell: {
			"Call करने के लिए शुक्रिया, bye!",
			"ठीक है, अपना ध्यान रखना!",
		},
		PromptApology: {
			"Sorry, मेरी तरफ से कुछ गड़बड़ हो गई। फिर से बोलो?",
			"अरे, कुछ problem हो गई। एक बार और बोलो?",
		},
		PromptEscalationAck: {
			"ठीक है, मैं आपको agent से connect कर रहा हूं, wait करो",
			"चलो, agent से बात करवाता हूं, थोड़ा wait करो",
			"Agent से connect कर रहा हूं, line पर रहो",
		},
	},
}

// Prompts is an immutable set of localized bot lines, one bucket per
// [PromptKind] per language. Selection within a bucket is deterministic
// given the conversation id and a per-bucket counter, so a session never
// repeats itself while staying reproducible in tests.
//
// A Prompts value is read-only after construction and safe for concurrent
// use.
type Prompts struct {
	table map[dialog.Language]map[PromptKind][]string
}

// DefaultPrompts returns the shipped prompt tables.
func DefaultPrompts() *Prompts {
	return &Prompts{table: copyTable(builtinPrompts)}
}

// LoadPrompts reads a YAML override file and merges it over the shipped
// tables. The file maps language codes ("en", "hi") to bucket names to
// replacement lines:
//
//	en:
//	  greeting:
//	    - "Welcome back!"
//
// Buckets absent from the file keep their built-in lines. Unknown languages,
// unknown bucket names, and empty buckets are errors.
func LoadPrompts(path string) (*Prompts, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("orchestrator: read prompts file: %w", err)
	}

	var doc map[string]map[PromptKind][]string
	dec := yaml.NewDecoder(bytes.NewReader(raw))
	dec.KnownFields(true)
	if err := dec.Decode(&doc); err != nil {
		return nil, fmt.Errorf("orchestrator: parse prompts file %s: %w", path, err)
	}

	p := DefaultPrompts()

	// Iterate languages in stable order so the first error is deterministic.
	langKeys := make([]string, 0, len(doc))
	for k := range doc {
		langKeys = append(langKeys, k)
	}
	sort.Strings(langKeys)

	for _, langKey := range langKeys {
		var lang dialog.Language
		switch langKey {
		case "en":
			lang = dialog.LanguageEN
		case "hi":
			lang = dialog.LanguageHI
		default:
			return nil, fmt.Errorf("orchestrator: prompts file %s: unknown language %q", path, langKey)
		}
		for kind, lines := range doc[langKey] {
			if !kind.valid() {
				return nil, fmt.Errorf("orchestrator: prompts file %s: unknown bucket %q", path, kind)
			}
			if len(lines) == 0 {
				return nil, fmt.Errorf("orchestrator: prompts file %s: bucket %s/%s is empty", path, langKey, kind)
			}
			p.table[lang][kind] = lines
		}
	}

	return p, nil
}

// Pick returns one line from the bucket. The index is
// (fnv32a(conversationID) + counter) mod bucket size, so consecutive
// counters walk the bucket without repetition and identical inputs always
// pick the same line. Languages without the bucket fall back to English.
func (p *Prompts) Pick(lang dialog.Language, kind PromptKind, conversationID string, counter int) string {
	bucket := p.table[lang][kind]
	if len(bucket) == 0 {
		bucket = p.table[dialog.LanguageEN][kind]
	}
	if len(bucket) == 0 {
		return ""
	}
	if counter < 0 {
		counter = 0
	}
	h := fnv.New32a()
	h.Write([]byte(conversationID))
	idx := (h.Sum32() + uint32(counter)) % uint32(len(bucket))
	return bucket[idx]
}

func copyTable(src map[dialog.Language]map[PromptKind][]string) map[dialog.Language]map[PromptKind][]string {
	out := make(map[dialog.Language]map[PromptKind][]string, len(src))
	for lang, kinds := range src {
		out[lang] = make(map[PromptKind][]string, len(kinds))
		for kind, lines := range kinds {
			out[lang][kind] = append([]string(nil), lines...)
		}
	}
	return out
}
