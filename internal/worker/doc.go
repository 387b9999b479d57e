// Package worker runs topic scans concurrently.
//
// Each scan job leases its own account from the pool, so the number of
// workers is capped by the number of eligible accounts. Within a scan pages
// are fetched and committed strictly in sequence: a page is stored and the
// checkpoint advanced before the next request goes out. Failures are turned
// into topic outcomes and never stop sibling scans.
package worker
