package shared

import "fmt"

// AccountLockKey builds redis keys guarding postings on a ledger account.
func AccountLockKey(accountID int64) string {
	return fmt.Sprintf("ledger:account:%d:lock", accountID)
}

// DocumentLockKey builds redis keys guarding transitions of a business document.
func DocumentLockKey(document string, id int64) string {
	return fmt.Sprintf("workflow:%s:%d:lock", document, id)
}
