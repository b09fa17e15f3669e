package stats

import (
	"fmt"

	"carads/cmd/internal/pgsql"
)

const tableViews = "ad_views"

func schemaSQL(schema string) string {
	views := pgsql.Ident(schema, tableViews)

	return fmt.Sprintf(`
CREATE SCHEMA IF NOT EXISTS %s;

CREATE TABLE IF NOT EXISTS %s (
  id         BIGSERIAL PRIMARY KEY,
  ad_id      BIGINT NOT NULL CHECK (ad_id > 0),
  viewed_at  TIMESTAMPTZ NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_ad_views_viewed_at
  ON %s (viewed_at);
`, pgsql.SchemaIdent(schema), views, views)
}
