package ingest

import (
	"fmt"

	"github.com/opensource-retail/harrier/internal/domain"
)

// Entity defaults applied during materialization.
const (
	defaultAccountAge    = 30
	defaultPayment       = "Credit Card"
	defaultIPAddress     = "0.0.0.0"
	defaultDevice        = "unknown"
	defaultItemName      = "Imported Item"
	defaultCategory      = "Unknown"
	defaultReturnReason  = "CSV Import"
	defaultItemCondition = "Unknown"
	returnIDPrefix       = "RET-"
)

// Materialize groups normalized rows into the four canonical collections.
//
// Grouping is by natural key: users by id (first-seen name wins),
// transactions by id (amounts accumulate, first-seen date and payment
// fields win), items by id (first row wins), returns by item id (first
// return event wins, later ones are silently dropped). Output order follows
// first appearance in the row sequence.
func Materialize(rows []Row) *domain.Dataset {
	ds := &domain.Dataset{}

	users := make(map[int64]*domain.User)
	txns := make(map[string]*domain.Transaction)
	items := make(map[string]*domain.Item)
	returns := make(map[string]*domain.Return)

	for _, row := range rows {
		if _, seen := users[row.UserID]; !seen {
			u := &domain.User{
				UserID:     row.UserID,
				Name:       row.RawName,
				Email:      fmt.Sprintf("user%d@example.com", row.UserID),
				AccountAge: defaultAccountAge,
			}
			users[row.UserID] = u
			ds.Users = append(ds.Users, u)
		}

		if t, seen := txns[row.TransactionID]; seen {
			t.TotalAmount += row.Price
		} else {
			t := &domain.Transaction{
				TransactionID:       row.TransactionID,
				UserID:              row.UserID,
				Date:                row.Date,
				TotalAmount:         row.Price,
				PaymentMethod:       orDefault(row.PaymentMethod, defaultPayment),
				IPAddress:           defaultIPAddress,
				DeviceFingerprint:   defaultDevice,
				ShippingAddressRisk: orDefault(row.ShippingRisk, domain.ShippingRiskLow),
			}
			txns[row.TransactionID] = t
			ds.Transactions = append(ds.Transactions, t)
		}

		if _, seen := items[row.ItemID]; !seen {
			it := &domain.Item{
				ItemID:        row.ItemID,
				TransactionID: row.TransactionID,
				Name:          defaultItemName,
				Price:         row.Price,
				Category:      orDefault(row.Category, defaultCategory),
			}
			items[row.ItemID] = it
			ds.Items = append(ds.Items, it)
		}

		if row.HasReturn {
			if _, seen := returns[row.ItemID]; !seen {
				ret := &domain.Return{
					ReturnID:       returnIDPrefix + row.ItemID,
					TransactionID:  row.TransactionID,
					UserID:         row.UserID,
					ItemID:         row.ItemID,
					ReturnDate:     row.ReturnDate,
					Reason:         defaultReturnReason,
					ReasonCategory: "General",
					RefundAmount:   row.Price,
					ItemCondition:  defaultItemCondition,
				}
				returns[row.ItemID] = ret
				ds.Returns = append(ds.Returns, ret)
			}
		}
	}

	return ds
}

func orDefault(v, def string) string {
	if v == "" {
		return def
	}
	return v
}
