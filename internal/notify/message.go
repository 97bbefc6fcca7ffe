package notify

import (
	"fmt"
	"strings"

	"voice-guard-go/internal/types"
)

// Alert is everything a message needs to describe one incident.
type Alert struct {
	IncidentID     string
	Username       string
	Score          float64
	Latitude       *float64
	Longitude      *float64
	AudioPath      string
	TranscriptPath string
}

// NewAlert builds an Alert from the run's artifacts.
func NewAlert(inc types.Incident, circle types.Circle, score float64, audio types.AudioArtifact, tr types.TranscriptArtifact) Alert {
	return Alert{
		IncidentID:     inc.ID,
		Username:       circle.DisplayName(),
		Score:          score,
		Latitude:       inc.Latitude,
		Longitude:      inc.Longitude,
		AudioPath:      audio.Path,
		TranscriptPath: tr.Path,
	}
}

// MapLink is empty when the incident carried no coordinates.
func (a Alert) MapLink() string {
	if a.Latitude == nil || a.Longitude == nil {
		return ""
	}
	return fmt.Sprintf("https://maps.google.com/?q=%f,%f", *a.Latitude, *a.Longitude)
}

type Attachment struct {
	Path string
	Name string
}

type Email struct {
	To          string
	Subject     string
	Body        string
	Attachments []Attachment
}

type PushMessage struct {
	Token string
	Title string
	Body  string
}

func (a Alert) attachments() []Attachment {
	var out []Attachment
	if a.AudioPath != "" {
		out = append(out, Attachment{Path: a.AudioPath, Name: "recording" + ext(a.AudioPath, ".wav")})
	}
	if a.TranscriptPath != "" {
		out = append(out, Attachment{Path: a.TranscriptPath, Name: "transcript.txt"})
	}
	return out
}

func ext(path, def string) string {
	if i := strings.LastIndexByte(path, '.'); i >= 0 && !strings.ContainsRune(path[i:], '/') {
		return path[i:]
	}
	return def
}

func (a Alert) body(intro string) string {
	var b strings.Builder
	b.WriteString(intro)
	b.WriteString("\n\n")
	fmt.Fprintf(&b, "Danger score: %.1f\n", a.Score)
	if link := a.MapLink(); link != "" {
		fmt.Fprintf(&b, "Last known location: %s\n", link)
	}
	fmt.Fprintf(&b, "Incident: %s\n\n", a.IncidentID)
	b.WriteString("The recording and its transcript are attached.\n")
	return b.String()
}

// AuthorityEmail is the report sent to the configured authority address.
func AuthorityEmail(a Alert, to string) Email {
	return Email{
		To:          to,
		Subject:     fmt.Sprintf("[Emergency] %s may be in danger (score %.0f)", a.Username, a.Score),
		Body:        a.body(fmt.Sprintf("An automated safety check flagged a recording from %s as dangerous and requests police attention.", a.Username)),
		Attachments: a.attachments(),
	}
}

// ContactEmail is sent to each member of the user's trusted circle.
func ContactEmail(a Alert, to string) Email {
	return Email{
		To:          to,
		Subject:     fmt.Sprintf("[Alert] %s may need your help", a.Username),
		Body:        a.body(fmt.Sprintf("You are listed as a trusted contact of %s. A recent recording was flagged as possibly dangerous.", a.Username)),
		Attachments: a.attachments(),
	}
}

// ContactPush shares one title and body across every token.
func ContactPush(a Alert, token string) PushMessage {
	return PushMessage{
		Token: token,
		Title: fmt.Sprintf("%s may need help", a.Username),
		Body:  fmt.Sprintf("Danger score %.0f. Check your email for the recording.", a.Score),
	}
}
