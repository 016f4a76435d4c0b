package transform

import (
	"encoding/csv"
	"io"
	"strings"

	"github.com/rotisserie/eris"

	"github.com/sells-group/refdata-migrate/internal/model"
)

// usersColumns is the positional layout of the users CSV after the header
// row: parent location, location, first name, last name, username, email.
const usersMinColumns = 5

// ParseUsers reads the users CSV and groups records by their
// (parent location, location) composite key. The organization-location
// linkage stays unresolved here; identifiers for newly minted locations are
// only known once the location transform has run.
func ParseUsers(r io.Reader) (map[string][]model.UserRecord, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1 // tolerate trailing optional columns

	records, err := reader.ReadAll()
	if err != nil {
		return nil, eris.Wrap(err, "transform: read users csv")
	}
	if len(records) < 2 {
		return map[string][]model.UserRecord{}, nil
	}

	groups := make(map[string][]model.UserRecord)
	for _, row := range records[1:] {
		if len(row) < usersMinColumns {
			return nil, eris.Errorf("transform: users csv row has %d columns, want at least %d", len(row), usersMinColumns)
		}
		u := model.UserRecord{
			ParentLocation: strings.TrimSpace(row[0]),
			Location:       strings.TrimSpace(row[1]),
			FirstName:      strings.TrimSpace(row[2]),
			LastName:       strings.TrimSpace(row[3]),
			Username:       strings.TrimSpace(row[4]),
		}
		if len(row) > 5 {
			u.Email = strings.TrimSpace(row[5])
		}
		groups[u.GroupKey()] = append(groups[u.GroupKey()], u)
	}
	return groups, nil
}
