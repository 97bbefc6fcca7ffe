package directory

import (
	"fmt"
	"strings"
	"unicode"

	"github.com/xuri/excelize/v2"
)

// LoadSheet reads a roster from the first sheet of an xlsx workbook. Columns
// are found by exact header name, ignoring case, spaces, '_' and '-'; other
// columns are skipped. Contacts are separated by commas or semicolons.
func LoadSheet(path string) (map[string]Entry, error) {
	f, err := excelize.OpenFile(path)
	if err != nil {
		return nil, fmt.Errorf("open file: %w", err)
	}
	defer f.Close()

	sheets := f.GetSheetList()
	if len(sheets) == 0 {
		return nil, fmt.Errorf("no sheets")
	}
	rows, err := f.GetRows(sheets[0])
	if err != nil {
		return nil, fmt.Errorf("read rows: %w", err)
	}
	if len(rows) == 0 {
		return nil, fmt.Errorf("no header row")
	}

	idIdx, nameIdx, emailIdx, tokenIdx, contactsIdx := -1, -1, -1, -1, -1
	columns := map[string]*int{
		"id": &idIdx, "uid": &idIdx, "userid": &idIdx,
		"name": &nameIdx, "username": &nameIdx, "displayname": &nameIdx,
		"email": &emailIdx, "mail": &emailIdx, "emailaddress": &emailIdx,
		"token": &tokenIdx, "fcmtoken": &tokenIdx, "pushtoken": &tokenIdx, "notificationtoken": &tokenIdx,
		"contacts": &contactsIdx, "contactids": &contactsIdx, "friends": &contactsIdx,
	}
	for i, h := range rows[0] {
		if col := columns[headerKey(h)]; col != nil && *col == -1 {
			*col = i
		}
	}
	if idIdx == -1 {
		return nil, fmt.Errorf("no user id column in header %v", rows[0])
	}

	cell := func(r []string, i int) string {
		if i >= 0 && i < len(r) {
			return strings.TrimSpace(r[i])
		}
		return ""
	}
	out := map[string]Entry{}
	for _, r := range rows[1:] {
		id := cell(r, idIdx)
		if id == "" {
			continue
		}
		out[id] = Entry{
			Username: cell(r, nameIdx),
			Email:    cell(r, emailIdx),
			Token:    cell(r, tokenIdx),
			Contacts: splitList(cell(r, contactsIdx)),
		}
	}
	return out, nil
}

func splitList(s string) []string {
	fields := strings.FieldsFunc(s, func(r rune) bool { return r == ',' || r == ';' })
	out := make([]string, 0, len(fields))
	for _, f := range fields {
		if f = strings.TrimSpace(f); f != "" {
			out = append(out, f)
		}
	}
	return out
}

// headerKey folds "User ID", "user_id" and "userId" to "userid".
func headerKey(h string) string {
	return strings.Map(func(r rune) rune {
		switch r {
		case ' ', '_', '-', '\t':
			return -1
		}
		return unicode.ToLower(r)
	}, strings.TrimSpace(h))
}
