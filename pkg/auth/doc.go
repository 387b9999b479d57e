// Package auth stores the session credentials of scraping accounts and
// exposes them to the account pool.
//
// Credentials come from browser cookie exports (see ImportCookies) and are
// kept in the system keyring, an AES-GCM encrypted file, or read from the
// environment. Manager merges these stores, assigns proxies and records
// sessions the gateway rejected, so the next run starts without them.
package auth
