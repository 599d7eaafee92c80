package data

import (
	"context"
	"database/sql"
	"strings"
)

// AccessPoint is an independently addressed camera in the registry.
type AccessPoint struct {
	MainServiceName string
	CameraID        string
	IP              string
	Port            int
	Credentials     PackedCredentials
}

// PackedCredentials is the decoded form of the registry's credential column:
// "user\npassword\n(profileTokens)\n(profileToken)", the last two optional.
type PackedCredentials struct {
	Username      string
	Password      string
	ProfileTokens []string
	ProfileToken  string
}

// Token returns the explicit profile token, else the first listed one.
func (c PackedCredentials) Token() string {
	if c.ProfileToken != "" {
		return c.ProfileToken
	}
	if len(c.ProfileTokens) > 0 {
		return c.ProfileTokens[0]
	}
	return ""
}

// ParsePackedCredentials decodes the packed credential column. The token list
// may be comma or whitespace separated and optionally wrapped in parentheses.
func ParsePackedCredentials(packed string) PackedCredentials {
	lines := strings.Split(strings.ReplaceAll(packed, "\r\n", "\n"), "\n")
	field := func(i int) string {
		if i < len(lines) {
			return strings.TrimSpace(lines[i])
		}
		return ""
	}

	c := PackedCredentials{
		Username:     field(0),
		Password:     field(1),
		ProfileToken: unwrap(field(3)),
	}
	tokens := strings.FieldsFunc(unwrap(field(2)), func(r rune) bool {
		return r == ',' || r == ';' || r == ' ' || r == '\t'
	})
	if len(tokens) > 0 {
		c.ProfileTokens = tokens
	}
	return c
}

func unwrap(s string) string {
	s = strings.TrimSpace(s)
	if strings.HasPrefix(s, "(") && strings.HasSuffix(s, ")") {
		s = strings.TrimSpace(s[1 : len(s)-1])
	}
	return s
}

type AccessPointModel struct {
	DB DBTX
}

const accessPointColumns = `main_service_name, camera_id, ip, port, credentials`

func scanAccessPoint(row *sql.Row) (*AccessPoint, error) {
	var (
		ap     AccessPoint
		port   sql.NullInt64
		packed sql.NullString
	)
	if err := row.Scan(&ap.MainServiceName, &ap.CameraID, &ap.IP, &port, &packed); err != nil {
		return nil, mapQueryError(err, ErrAccessPointNotFound)
	}
	ap.Port = int(port.Int64)
	ap.Credentials = ParsePackedCredentials(packed.String)
	return &ap, nil
}

// Get returns the access point of cameraID under mainServiceName.
func (m AccessPointModel) Get(ctx context.Context, mainServiceName, cameraID string) (*AccessPoint, error) {
	query := `
		SELECT ` + accessPointColumns + `
		FROM access_points
		WHERE main_service_name = $1 AND camera_id = $2
		LIMIT 1`
	return scanAccessPoint(m.DB.QueryRowContext(ctx, query, mainServiceName, cameraID))
}

// GetByIP returns the access point registered for ip, used when the caller
// supplied an address without credentials.
func (m AccessPointModel) GetByIP(ctx context.Context, ip string) (*AccessPoint, error) {
	query := `
		SELECT ` + accessPointColumns + `
		FROM access_points
		WHERE ip = $1
		ORDER BY camera_id
		LIMIT 1`
	return scanAccessPoint(m.DB.QueryRowContext(ctx, query, ip))
}
