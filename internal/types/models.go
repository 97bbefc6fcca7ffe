package types

// Incident is one pipeline run triggered by a single audio submission.
type Incident struct {
	ID        string   `json:"incident_id"`
	UserID    string   `json:"userId"`
	SourceURI string   `json:"storageUrl,omitempty"`
	Latitude  *float64 `json:"latitude,omitempty"`
	Longitude *float64 `json:"longitude,omitempty"`
}

// HasLocation reports whether both coordinates were supplied.
func (i Incident) HasLocation() bool {
	return i.Latitude != nil && i.Longitude != nil
}

type AudioFormat string

const (
	FormatNative AudioFormat = "native"
	FormatLinear AudioFormat = "linear16"
)

// AudioArtifact is a scratch file holding audio for one incident.
// SampleRate is zero until the artifact has been normalized and probed.
// Name is the client-facing file name, empty when the file was produced here.
type AudioArtifact struct {
	Path       string      `json:"path"`
	Name       string      `json:"name,omitempty"`
	Format     AudioFormat `json:"format"`
	SampleRate int         `json:"sample_rate,omitempty"`
}

// EmptyTranscript stands in for a recognition result with no segments.
const EmptyTranscript = "[Empty Transcript]"

type TranscriptArtifact struct {
	Path string `json:"path"`
	Name string `json:"name,omitempty"`
	Text string `json:"text"`
}

type Contact struct {
	UserID            string `json:"userId"`
	Email             string `json:"email,omitempty"`
	NotificationToken string `json:"notificationToken,omitempty"`
}

// Circle is a user's resolved trusted circle.
type Circle struct {
	UserID   string    `json:"userId"`
	Username string    `json:"username,omitempty"`
	Contacts []Contact `json:"contacts"`
}

// DisplayName falls back to the user id when no username is stored.
func (c Circle) DisplayName() string {
	if c.Username != "" {
		return c.Username
	}
	return c.UserID
}

type ActionKind string

const (
	NotifyAuthority ActionKind = "notify_authority"
	NotifyContacts  ActionKind = "notify_contacts"
)

// AlertAction is a policy decision plus the recipients it applies to.
// Recipients are filled in by the orchestrator after contact resolution.
type AlertAction struct {
	Kind       ActionKind `json:"kind"`
	Recipients []Contact  `json:"recipients,omitempty"`
}

// ScoreResponse is the HTTP-facing result of a successful incident.
type ScoreResponse struct {
	DangerScore float64 `json:"dangerScore"`
	Level       string  `json:"level"`
}

type ErrorResponse struct {
	Error string `json:"error"`
}
