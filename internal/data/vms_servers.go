package data

import (
	"context"
	"database/sql"
	"strings"
)

// VMSConnectionInfo is how to reach a VMS aggregator. It is read fresh on
// every dispatch and never cached.
type VMSConnectionInfo struct {
	Name     string
	IP       string
	Port     int
	UseHTTPS bool
	Username string
	Password string
}

type VMSModel struct {
	DB DBTX
}

// GetByName looks a VMS up by its display name, case-insensitively.
func (m VMSModel) GetByName(ctx context.Context, name string) (*VMSConnectionInfo, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, ErrVMSNotFound
	}

	query := `
		SELECT name, ip, port, use_https, username, password
		FROM vms_servers
		WHERE lower(name) = lower($1)
		LIMIT 1`

	var (
		v        VMSConnectionInfo
		user     sql.NullString
		password sql.NullString
	)
	err := m.DB.QueryRowContext(ctx, query, name).Scan(&v.Name, &v.IP, &v.Port, &v.UseHTTPS, &user, &password)
	if err != nil {
		return nil, mapQueryError(err, ErrVMSNotFound)
	}
	v.Username = user.String
	v.Password = password.String
	return &v, nil
}
