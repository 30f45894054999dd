// Package tenant resolves the addressable tenant ("cloud") identifier for an
// authenticated Atlassian account and the tenant-specific estimation field key.
//
// Tenant selection is an explicit first-of-list policy over the account's
// accessible-resources list: the bridge runs a single-tenant session and does
// not disambiguate multi-site accounts.
package tenant
