package debate

import (
	"fmt"
	"strings"
)

// TranscriptEntry is one line of a rendered debate.
type TranscriptEntry struct {
	Sequence int64
	Sender   string
	Type     MessageType
	Content  string
	Stub     bool
}

// Transcript is a read-only view of a message log in sequence order.
// Post-termination messages are left out because consumers must ignore them.
type Transcript struct {
	Entries []TranscriptEntry
}

// NewTranscript builds a transcript from messages already in sequence order.
func NewTranscript(messages []Message) Transcript {
	t := Transcript{Entries: make([]TranscriptEntry, 0, len(messages))}
	for _, m := range messages {
		if m.Metadata.PostTermination {
			continue
		}
		sender := m.SenderName
		if sender == "" {
			sender = m.SenderID
		}
		t.Entries = append(t.Entries, TranscriptEntry{
			Sequence: m.Sequence,
			Sender:   sender,
			Type:     m.Type,
			Content:  m.Content,
			Stub:     m.Metadata.Error,
		})
	}
	return t
}

// Markdown renders the transcript for export and email drafting.
func (t Transcript) Markdown(title string) string {
	var b strings.Builder
	if title != "" {
		fmt.Fprintf(&b, "# %s\n\n", title)
	}
	for _, e := range t.Entries {
		label := string(e.Type)
		if e.Stub {
			label += ", unavailable"
		}
		fmt.Fprintf(&b, "**%d. %s** _(%s)_\n\n%s\n\n", e.Sequence, e.Sender, label, strings.TrimSpace(e.Content))
	}
	return b.String()
}
