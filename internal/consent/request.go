package consent

import (
	"strings"

	"github.com/MEKXH/warden/internal/risk"
	"github.com/google/uuid"
)

// requestNamespace scopes request ids so identical requests share one id.
var requestNamespace = uuid.NewSHA1(uuid.NameSpaceURL, []byte("https://github.com/MEKXH/warden/consent-request"))

// Request asks for permission to perform one operation.
type Request struct {
	ID          string        `json:"id"`
	Description string        `json:"description"`
	Category    risk.Category `json:"category"`
	Risk        risk.Level    `json:"risk"`
	Command     string        `json:"command,omitempty"`
	Files       []string      `json:"files,omitempty"`
	BatchID     string        `json:"batch_id,omitempty"`
}

// NewRequest builds a request with a deterministic id.
func NewRequest(category risk.Category, level risk.Level, description, command string, files []string) Request {
	req := Request{
		Description: strings.TrimSpace(description),
		Category:    category,
		Risk:        level,
		Command:     strings.TrimSpace(command),
		Files:       append([]string(nil), files...),
	}
	req.ID = requestID(req)
	return req
}

// ShellRequest classifies a command and builds the matching request.
func ShellRequest(command string) Request {
	c := risk.ClassifyCommand(command)
	return NewRequest(c.Category, c.Level, "Execute: "+strings.TrimSpace(command), command, nil)
}

// FileRequest builds a request for a file operation at the category's default risk.
func FileRequest(category risk.Category, description string, files ...string) Request {
	return NewRequest(category, category.DefaultLevel(), description, "", files)
}

// WithRisk returns a copy at a different risk. The id keeps the classified
// risk so a recorded denial holds whatever the context raises it to.
func (r Request) WithRisk(level risk.Level) Request {
	r.Risk = level
	r.Files = append([]string(nil), r.Files...)
	return r
}

// InBatch returns a copy tagged with a batch id.
func (r Request) InBatch(batchID string) Request {
	r.BatchID = batchID
	r.Files = append([]string(nil), r.Files...)
	return r
}

// ConsentKey identifies "the same kind of request" for session memory.
func (r Request) ConsentKey() string {
	return string(r.Category) + ":" + r.Risk.String() + ":" + r.Command
}

func requestID(r Request) string {
	parts := append([]string{string(r.Category), r.Risk.String(), r.Command}, r.Files...)
	return uuid.NewSHA1(requestNamespace, []byte(strings.Join(parts, "\x00"))).String()
}
