// Package token verifies shared-secret tokens presented by external callers.
//
// The Telegram Bot API echoes the secret configured with setWebhook in the
// X-Telegram-Bot-Api-Secret-Token header of every update. Verifier compares
// that header against the configured secret in constant time.
//
// Environment:
// - CARADS_TELEGRAM_WEBHOOK_SECRET: when set, enables verification.
// Policy:
//   - The secret must be 1-256 chars of A-Z, a-z, 0-9, "_" and "-" (Telegram's
//     own constraint), so a misconfigured secret fails at startup, not per request.
package token
