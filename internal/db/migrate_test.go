package db

import (
	"io/fs"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMigrations_EveryServiceHasUpAndDown(t *testing.T) {
	for _, service := range []string{Inventory, Order, Payment} {
		t.Run(service, func(t *testing.T) {
			sub, err := Migrations(service)
			require.NoError(t, err)

			ups, err := fs.Glob(sub, "*.up.sql")
			require.NoError(t, err)
			downs, err := fs.Glob(sub, "*.down.sql")
			require.NoError(t, err)

			assert.NotEmpty(t, ups)
			assert.Len(t, downs, len(ups))
		})
	}
}
