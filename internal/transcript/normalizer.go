// Package transcript turns speech-to-text service output into an ordered
// utterance sequence.
package transcript

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"call-audit-go/internal/types"
)

const DefaultSpeaker = "agent"

type document struct {
	Results *json.RawMessage `json:"results"`
}

type results struct {
	Transcripts []struct {
		Transcript string `json:"transcript"`
	} `json:"transcripts"`
	Items []item `json:"items"`
}

type item struct {
	Type         string `json:"type"`
	StartTime    string `json:"start_time"`
	SpeakerLabel string `json:"speaker_label"`
	Alternatives []struct {
		Content string `json:"content"`
	} `json:"alternatives"`
}

func (it item) content() string {
	if len(it.Alternatives) == 0 {
		return ""
	}
	return strings.TrimSpace(it.Alternatives[0].Content)
}

// Normalize converts a transcription result document into a Transcript.
//
// Word-level items win when present: contiguous pronunciation items are joined
// into one utterance, sentence-final punctuation closes it, other punctuation
// is dropped, and the utterance keeps its earliest start time. Without items
// the flat transcript text becomes a single utterance by speaker.
func Normalize(doc []byte, speaker string) (types.Transcript, error) {
	if speaker == "" {
		speaker = DefaultSpeaker
	}
	var d document
	if err := json.Unmarshal(doc, &d); err != nil {
		return types.Transcript{}, fmt.Errorf("%w: %v", types.ErrTranscriptParse, err)
	}
	if d.Results == nil || !bytes.HasPrefix(bytes.TrimSpace(*d.Results), []byte("{")) {
		return types.Transcript{}, fmt.Errorf("%w: missing results object", types.ErrTranscriptParse)
	}
	var r results
	if err := json.Unmarshal(*d.Results, &r); err != nil {
		return types.Transcript{}, fmt.Errorf("%w: results: %v", types.ErrTranscriptParse, err)
	}

	if len(r.Items) > 0 {
		return fromItems(r.Items, speaker)
	}
	if len(r.Transcripts) > 0 {
		text := strings.TrimSpace(r.Transcripts[0].Transcript)
		if text == "" {
			return types.Transcript{Utterances: []types.Utterance{}}, nil
		}
		return types.Transcript{Utterances: []types.Utterance{{Speaker: speaker, Text: text}}}, nil
	}
	return types.Transcript{}, fmt.Errorf("%w: results has neither items nor transcripts", types.ErrTranscriptParse)
}

func fromItems(items []item, speaker string) (types.Transcript, error) {
	out := types.Transcript{Utterances: []types.Utterance{}}

	var (
		words []string
		start *float64
		label string
	)
	flush := func() {
		if len(words) == 0 {
			return
		}
		sp := label
		if sp == "" {
			sp = speaker
		}
		out.Utterances = append(out.Utterances, types.Utterance{
			Speaker:   sp,
			Text:      strings.Join(words, " "),
			StartTime: start,
		})
		words, start, label = nil, nil, ""
	}

	for i, it := range items {
		switch it.Type {
		case "pronunciation":
			c := it.content()
			if c == "" {
				continue
			}
			if it.StartTime != "" {
				st, err := strconv.ParseFloat(it.StartTime, 64)
				if err != nil {
					return types.Transcript{}, fmt.Errorf("%w: item %d start_time %q", types.ErrTranscriptParse, i, it.StartTime)
				}
				if start == nil || st < *start {
					start = &st
				}
			}
			if label == "" {
				label = it.SpeakerLabel
			}
			words = append(words, c)
		case "punctuation":
			switch it.content() {
			case ".", "?", "!":
				flush()
			}
		}
	}
	flush()
	return out, nil
}

// storedUtterance is the replay format: an already normalized list.
type storedUtterance struct {
	Speaker   string          `json:"speaker"`
	Text      string          `json:"text"`
	StartTime json.RawMessage `json:"start_time"`
}

// NormalizeStored accepts either a service result document or a JSON array of
// {speaker, text, start_time} records.
func NormalizeStored(doc []byte, speaker string) (types.Transcript, error) {
	trimmed := bytes.TrimSpace(doc)
	if !bytes.HasPrefix(trimmed, []byte("[")) {
		return Normalize(doc, speaker)
	}
	if speaker == "" {
		speaker = DefaultSpeaker
	}
	var list []storedUtterance
	if err := json.Unmarshal(trimmed, &list); err != nil {
		return types.Transcript{}, fmt.Errorf("%w: %v", types.ErrTranscriptParse, err)
	}
	out := types.Transcript{Utterances: make([]types.Utterance, 0, len(list))}
	for i, u := range list {
		text := strings.TrimSpace(u.Text)
		if text == "" {
			continue
		}
		utt := types.Utterance{Speaker: u.Speaker, Text: text}
		if utt.Speaker == "" {
			utt.Speaker = speaker
		}
		if st, ok, err := parseStartTime(u.StartTime); err != nil {
			return types.Transcript{}, fmt.Errorf("%w: entry %d: %v", types.ErrTranscriptParse, i, err)
		} else if ok {
			utt.StartTime = &st
		}
		out.Utterances = append(out.Utterances, utt)
	}
	return out, nil
}

// parseStartTime accepts a number or a numeric string, as both appear in saved files.
func parseStartTime(raw json.RawMessage) (float64, bool, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return 0, false, nil
	}
	var f float64
	if err := json.Unmarshal(raw, &f); err == nil {
		return f, true, nil
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return 0, false, fmt.Errorf("start_time %s", string(raw))
	}
	if s == "" {
		return 0, false, nil
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, false, fmt.Errorf("start_time %q", s)
	}
	return f, true, nil
}
