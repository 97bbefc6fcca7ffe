package directory

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"firebase.google.com/go/v4/db"
	"github.com/sirupsen/logrus"
)

// RTDB reads user records from a Firebase Realtime Database laid out as
//
//	users/{uid}/username
//	users/{uid}/friends    list or map of contact ids
//	users/{uid}/email
//	users/{uid}/fcmToken
type RTDB struct {
	client *db.Client
	log    *logrus.Entry
}

var _ Directory = (*RTDB)(nil)

func NewRTDB(client *db.Client, log *logrus.Entry) *RTDB {
	return &RTDB{client: client, log: log.WithField("module", "directory")}
}

func (d *RTDB) Username(ctx context.Context, userID string) (string, error) {
	return d.str(ctx, userID, "username")
}

func (d *RTDB) Email(ctx context.Context, userID string) (string, error) {
	return d.str(ctx, userID, "email")
}

func (d *RTDB) Token(ctx context.Context, userID string) (string, error) {
	return d.str(ctx, userID, "fcmToken")
}

func (d *RTDB) ContactIDs(ctx context.Context, userID string) ([]string, error) {
	path, err := userPath(userID, "friends")
	if err != nil {
		return nil, err
	}
	var raw json.RawMessage
	if err := d.client.NewRef(path).Get(ctx, &raw); err != nil {
		return nil, fmt.Errorf("get %s: %w", path, err)
	}
	return parseContactIDs(raw)
}

func (d *RTDB) str(ctx context.Context, userID, field string) (string, error) {
	path, err := userPath(userID, field)
	if err != nil {
		return "", err
	}
	var raw json.RawMessage
	if err := d.client.NewRef(path).Get(ctx, &raw); err != nil {
		return "", fmt.Errorf("get %s: %w", path, err)
	}
	v, ok := stringValue(raw)
	if !ok {
		d.log.WithFields(logrus.Fields{"path": path, "value": truncate(raw)}).Warn("non-string value, treating as missing")
	}
	return v, nil
}

// stringValue reads a JSON string. Absent and null are valid empties; any
// other JSON type is reported as not ok and yields "".
func stringValue(raw json.RawMessage) (string, bool) {
	s := strings.TrimSpace(string(raw))
	if s == "" || s == "null" {
		return "", true
	}
	var v string
	if err := json.Unmarshal(raw, &v); err != nil {
		return "", false
	}
	return strings.TrimSpace(v), true
}

func truncate(raw json.RawMessage) string {
	const maxLogged = 64
	if len(raw) > maxLogged {
		return string(raw[:maxLogged]) + "..."
	}
	return string(raw)
}

func userPath(userID, field string) (string, error) {
	if userID == "" || strings.ContainsAny(userID, ".$#[]/") {
		return "", fmt.Errorf("invalid user id %q", userID)
	}
	return "users/" + userID + "/" + field, nil
}

// parseContactIDs accepts the shapes clients have written over time:
// ["a","b"], {"a":true,"b":true} and push-key maps {"-Nx1":"a"}.
func parseContactIDs(raw json.RawMessage) ([]string, error) {
	s := strings.TrimSpace(string(raw))
	if s == "" || s == "null" {
		return nil, nil
	}

	var list []*string
	if err := json.Unmarshal(raw, &list); err == nil {
		out := make([]string, 0, len(list))
		for _, id := range list {
			if id != nil {
				out = append(out, *id)
			}
		}
		return out, nil
	}

	var m map[string]any
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, fmt.Errorf("decode contact list: %w", err)
	}
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	out := make([]string, 0, len(m))
	for _, k := range keys {
		switch v := m[k].(type) {
		case string:
			out = append(out, v)
		case bool:
			if v {
				out = append(out, k)
			}
		default:
			out = append(out, k)
		}
	}
	return out, nil
}
