// Package economy holds the arithmetic behind group balances: exact
// decimal amounts, vote averaging, stipend accrual and member addressing.
//
// Amounts are decimals, never floats. They travel through canonical
// payloads as strings.
package economy
