package merge

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/packetkeeper/packetkeeper/internal/keeper/models"
)

// ForkMeta describes one conflict fork: which packet it was split from,
// who caused it, and which human-readable suffix style applies.
type ForkMeta struct {
	ForkedFrom string
	User       string
	Shared     bool
	// Seq numbers the fork within one merge pass; used for the "(n)"
	// suffix on personal workspaces.
	Seq int
	At  time.Time
}

// Suffix is the human-readable conflict marker appended to the title:
// "[<user>'s copy]" on shared workspaces, "(<n>)" on personal ones.
func (m ForkMeta) Suffix() string {
	if m.Shared {
		return fmt.Sprintf("[%s's copy]", m.User)
	}
	return fmt.Sprintf("(%d)", m.Seq)
}

// ForkEnvelope annotates an envelope for its life as a conflict copy: fork
// metadata recording the origin, and the conflict suffix on the title.
// Pure; the input envelope is not modified.
func ForkEnvelope(env models.Envelope, meta ForkMeta) models.Envelope {
	out := env
	out.Fork = &models.ForkInfo{
		ForkedFrom:    meta.ForkedFrom,
		OriginalTitle: env.Title,
		ForkedByUser:  meta.User,
		ForkedAt:      meta.At,
	}
	if out.Title != "" {
		out.Title += " " + meta.Suffix()
	} else {
		out.Title = meta.Suffix()
	}
	return out
}

// annotateRaw runs ForkEnvelope over raw payload JSON.
func annotateRaw(raw json.RawMessage, meta ForkMeta) (json.RawMessage, error) {
	env, err := models.ParseEnvelope(raw)
	if err != nil {
		return nil, err
	}
	return ForkEnvelope(env, meta).Encode()
}
