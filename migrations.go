package admission

import (
	"context"

	goerrors "github.com/goliatone/go-errors"
	"github.com/uptrace/bun"
)

// Migrate creates the tables used by IdentityStore when missing.
func Migrate(ctx context.Context, db bun.IDB) error {
	models := []any{
		(*Org)(nil),
		(*OrgDomain)(nil),
		(*User)(nil),
	}

	for _, model := range models {
		if _, err := db.NewCreateTable().Model(model).IfNotExists().Exec(ctx); err != nil {
			return goerrors.Wrap(err, goerrors.CategoryInternal, "failed to create table").
				WithMetadata(map[string]any{"model": model})
		}
	}

	_, err := db.NewCreateIndex().
		Model((*User)(nil)).
		Index("users_org_idx").
		IfNotExists().
		Column("org").
		Exec(ctx)
	if err != nil {
		return goerrors.Wrap(err, goerrors.CategoryInternal, "failed to create users org index")
	}

	return nil
}
