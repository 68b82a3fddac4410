package storage

import (
	"context"
	"fmt"

	"github.com/levenlabs/go-lflag"
)

// provider is a Database that is validated and connected once flags are
// parsed.
type provider interface {
	Database
	Validate() error
	Init(ctx context.Context) error
}

// Configured sets up the Database selected by the storage-provider flag.
func Configured() Database {
	name := lflag.String("storage-provider", "firestore", "Storage provider to use (available: firestore, postgres, sqlite)")

	var p struct{ Database }

	providers := map[string]provider{
		"firestore": configuredFirestore(),
		"postgres":  configuredPostgres(),
		"sqlite":    configuredSQLite(),
	}

	lflag.Do(func() {
		selected, ok := providers[*name]
		if !ok {
			panic(fmt.Sprintf("unknown storage provider: %s", *name))
		}
		if err := selected.Validate(); err != nil {
			panic(fmt.Sprintf("%s validation failed: %v", *name, err))
		}
		if err := selected.Init(context.Background()); err != nil {
			panic(fmt.Sprintf("%s init failed: %v", *name, err))
		}
		p.Database = selected
	})

	return &p
}
