package echoapi

import (
	"encoding/json"
	"strings"

	"github.com/pkg/errors"

	"github.com/trezcool/masomo-authgate/core/authgate"
)

// Entry is a registered phone number.
type Entry struct {
	Role string
	Name string
}

// Profile is the opaque profile handed to the device on login.
func (e Entry) Profile(phone string) json.RawMessage {
	data, _ := json.Marshal(map[string]string{
		"name":        e.Name,
		"phoneNumber": phone,
		"role":        e.Role,
	})
	return data
}

// Directory maps canonical phone numbers to registered users.
type Directory map[string]Entry

// ParseDirectory reads "role:name" entries keyed by phone number.
func ParseDirectory(raw map[string]string, defaultCC string) (Directory, error) {
	dir := make(Directory, len(raw))
	for phone, val := range raw {
		canonical, err := authgate.NormalizePhone(phone, defaultCC)
		if err != nil {
			return nil, errors.Wrapf(err, "directory phone %q", phone)
		}
		role, name, found := strings.Cut(val, ":")
		if !found {
			name, role = role, string(authgate.RoleOther)
		}
		dir[canonical] = Entry{Role: strings.TrimSpace(role), Name: strings.TrimSpace(name)}
	}
	return dir, nil
}

func (d Directory) Lookup(phone string) (Entry, bool) {
	e, ok := d[phone]
	return e, ok
}
