package payment

import (
	"time"
)

// orderCodeSpan is the number of order codes available to one bill.
const orderCodeSpan = 1000

// NextOrderCode derives a gateway order code as bill_id*1000 plus the current
// unix second modulo 1000. Codes already used by the bill are skipped by
// bumping the suffix. ok is false when all 1000 codes are taken.
func NextOrderCode(billID int64, now time.Time, used map[int64]bool) (code int64, ok bool) {
	suffix := now.Unix() % orderCodeSpan
	for i := int64(0); i < orderCodeSpan; i++ {
		code = billID*orderCodeSpan + (suffix+i)%orderCodeSpan
		if !used[code] {
			return code, true
		}
	}
	return 0, false
}

// BillIDFromOrderCode recovers the bill id encoded by NextOrderCode.
func BillIDFromOrderCode(code int64) int64 {
	return code / orderCodeSpan
}
