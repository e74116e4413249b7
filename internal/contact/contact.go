// Package contact resolves conversation ids to display names
// from the account's decrypted contact database. Lookups are
// fail-soft: a missing or unreadable contact.db just means the
// raw id is shown.
package contact

import (
	"database/sql"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	_ "github.com/mattn/go-sqlite3"
)

// FileName is the contact database file inside an account dir.
const FileName = "contact.db"

// inChunkSize bounds IN-clause parameter counts per query.
const inChunkSize = 400

// Row is one contact record.
type Row struct {
	Username string
	Remark   string
	NickName string
	Alias    string
}

// DisplayName picks the best human-readable name for a contact:
// remark, then nickname, then alias, falling back to the raw id.
func (r *Row) DisplayName(fallback string) string {
	if r != nil {
		for _, name := range []string{r.Remark, r.NickName, r.Alias} {
			if s := strings.TrimSpace(name); s != "" {
				return s
			}
		}
	}
	return fallback
}

// MaskName obscures a display name for shareable output. One
// rune becomes "*", two runes keep the first, longer names keep
// the first and last runes.
func MaskName(name string) string {
	runes := []rune(strings.TrimSpace(name))
	switch n := len(runes); n {
	case 0:
		return ""
	case 1:
		return "*"
	case 2:
		return string(runes[0]) + "*"
	default:
		return string(runes[0]) +
			strings.Repeat("*", n-2) +
			string(runes[n-1])
	}
}

// AvatarURL returns the server-relative avatar endpoint for a
// contact, or "" when the id is empty.
func AvatarURL(account, username string) string {
	if username == "" {
		return ""
	}
	return "/api/v1/accounts/" + url.PathEscape(account) +
		"/avatars/" + url.PathEscape(username)
}

// Load reads the named contacts from the account's contact.db.
// Any failure returns an empty map; ids absent from the map
// simply render unresolved.
func Load(accountDir string, usernames []string) map[string]Row {
	rows := make(map[string]Row)
	if len(usernames) == 0 {
		return rows
	}
	path := filepath.Join(accountDir, FileName)
	if _, err := os.Stat(path); err != nil {
		return rows
	}

	db, err := sql.Open("sqlite3", path+"?mode=ro&_busy_timeout=5000")
	if err != nil {
		return rows
	}
	defer db.Close()

	for start := 0; start < len(usernames); start += inChunkSize {
		end := min(start+inChunkSize, len(usernames))
		chunk := usernames[start:end]

		placeholders := strings.Repeat("?,", len(chunk))
		query := fmt.Sprintf(
			`SELECT username, remark, nick_name, alias
			FROM contact WHERE username IN (%s)`,
			placeholders[:len(placeholders)-1])

		args := make([]any, len(chunk))
		for i, u := range chunk {
			args[i] = u
		}

		res, err := db.Query(query, args...)
		if err != nil {
			return rows
		}
		for res.Next() {
			var username, remark, nick, alias sql.NullString
			if err := res.Scan(&username, &remark, &nick, &alias); err != nil {
				continue
			}
			if username.String == "" {
				continue
			}
			rows[username.String] = Row{
				Username: username.String,
				Remark:   remark.String,
				NickName: nick.String,
				Alias:    alias.String,
			}
		}
		res.Close()
	}
	return rows
}
