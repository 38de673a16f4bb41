package coordinator

import "fmt"

// Kind tells views how to present a status message.
type Kind int

const (
	KindInfo Kind = iota
	KindSuccess
	KindWarn
	KindError
)

func (k Kind) String() string {
	switch k {
	case KindSuccess:
		return "success"
	case KindWarn:
		return "warn"
	case KindError:
		return "error"
	default:
		return "info"
	}
}

// User facing status texts.
const (
	MsgLoginRequired        = "Login required."
	MsgLoginFailed          = "Login failed."
	MsgMissingProviderToken = "No GitHub provider token in session. Enable token flow/scopes in the identity provider's GitHub settings."
	MsgEnterQuery           = "Enter a search query."
	MsgNoMatches            = "No matching tools found."
	MsgImportFailed         = "Import failed"
	MsgSearchFailed         = "Search failed"

	StageImporting  = "Importing GitHub stars..."
	StageGenerating = "Generating embeddings and saving to database..."
	StageComplete   = "Complete."
	StageFailed     = "Failed."
)

func MsgImported(n int) string {
	return fmt.Sprintf("Imported/updated %d starred repositories. Go ahead with search.", n)
}

// OperationStatus is the progress of the latest import or search.
type OperationStatus struct {
	Stage   string
	Message string
	Kind    Kind
}

func (s OperationStatus) IsZero() bool {
	return s.Stage == "" && s.Message == ""
}
