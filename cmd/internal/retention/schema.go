package retention

import (
	"fmt"

	"carads/cmd/internal/pgsql"
)

const tableMessages = "telegram_messages"

// schemaSQL returns the idempotent DDL for the message log in schema.
func schemaSQL(schema string) string {
	messages := pgsql.Ident(schema, tableMessages)

	return fmt.Sprintf(`
CREATE SCHEMA IF NOT EXISTS %s;

CREATE TABLE IF NOT EXISTS %s (
  id              BIGSERIAL PRIMARY KEY,
  message_id      BIGINT NOT NULL,
  chat_id         BIGINT NOT NULL,
  text            TEXT NOT NULL,
  from_username   TEXT NOT NULL DEFAULT '',
  from_first_name TEXT NOT NULL DEFAULT '',
  received_at     TIMESTAMPTZ NOT NULL,
  telegram_link   TEXT NOT NULL DEFAULT '',

  CONSTRAINT uq_telegram_messages_chat_message UNIQUE (chat_id, message_id),
  CONSTRAINT chk_telegram_messages_text CHECK (char_length(text) > 0)
);

CREATE INDEX IF NOT EXISTS idx_telegram_messages_chat_received
  ON %s (chat_id, received_at DESC, id DESC);

CREATE INDEX IF NOT EXISTS idx_telegram_messages_received
  ON %s (received_at);
`, pgsql.SchemaIdent(schema), messages, messages, messages)
}
