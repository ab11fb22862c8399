package ingest

import (
	"testing"
	"time"
)

func TestMaterializeGroupsByNaturalKey(t *testing.T) {
	day1 := time.Date(2025, 5, 1, 0, 0, 0, 0, time.UTC)
	day2 := time.Date(2025, 5, 2, 0, 0, 0, 0, time.UTC)

	rows := []Row{
		{UserID: 1, RawName: "Alice", TransactionID: "T-1", ItemID: "I-1", Price: 100, Date: day1},
		{UserID: 1, RawName: "Alice", TransactionID: "T-1", ItemID: "I-2", Price: 50, Date: day1},
		{UserID: 2, RawName: "Bob", TransactionID: "T-2", ItemID: "I-3", Price: 20, Date: day2},
	}

	ds := Materialize(rows)

	if len(ds.Users) != 2 {
		t.Fatalf("expected 2 users, got %d", len(ds.Users))
	}
	if len(ds.Transactions) != 2 {
		t.Fatalf("expected 2 transactions, got %d", len(ds.Transactions))
	}
	if len(ds.Items) != 3 {
		t.Fatalf("expected 3 items, got %d", len(ds.Items))
	}

	if ds.Transactions[0].TotalAmount != 150 {
		t.Errorf("expected multi-item transaction amount 150, got %v", ds.Transactions[0].TotalAmount)
	}
	if ds.Users[0].Name != "Alice" || ds.Users[1].Name != "Bob" {
		t.Errorf("output order must follow first appearance: %v, %v", ds.Users[0].Name, ds.Users[1].Name)
	}
}

func TestMaterializeDropsDuplicateReturns(t *testing.T) {
	day := time.Date(2025, 5, 1, 0, 0, 0, 0, time.UTC)
	ret := day.AddDate(0, 0, 1)
	laterRet := day.AddDate(0, 0, 9)

	rows := []Row{
		{UserID: 1, TransactionID: "T-1", ItemID: "I-1", Price: 80, Date: day, ReturnDate: ret, HasReturn: true},
		{UserID: 1, TransactionID: "T-1", ItemID: "I-1", Price: 80, Date: day, ReturnDate: laterRet, HasReturn: true},
	}

	ds := Materialize(rows)

	if len(ds.Returns) != 1 {
		t.Fatalf("expected 1 return, got %d", len(ds.Returns))
	}
	if !ds.Returns[0].ReturnDate.Equal(ret) {
		t.Errorf("first return event must win, got %v", ds.Returns[0].ReturnDate)
	}
	if ds.Returns[0].ReturnID != "RET-I-1" {
		t.Errorf("unexpected return id %s", ds.Returns[0].ReturnID)
	}
	if ds.Returns[0].RefundAmount != 80 {
		t.Errorf("refund must be the item price, got %v", ds.Returns[0].RefundAmount)
	}
}

func TestMaterializeDefaults(t *testing.T) {
	rows := []Row{
		{UserID: 7, RawName: "Carol", TransactionID: "T-1", ItemID: "I-1", Price: 10},
	}

	ds := Materialize(rows)

	u := ds.Users[0]
	if u.AccountAge != defaultAccountAge {
		t.Errorf("expected default account age %d, got %d", defaultAccountAge, u.AccountAge)
	}
	if u.Email == "" {
		t.Error("expected a synthesized email")
	}

	txn := ds.Transactions[0]
	if txn.PaymentMethod != defaultPayment {
		t.Errorf("expected default payment method, got %s", txn.PaymentMethod)
	}

	item := ds.Items[0]
	if item.Category != defaultCategory {
		t.Errorf("expected default category, got %s", item.Category)
	}
}

func TestMaterializeEnrichmentColumns(t *testing.T) {
	rows := []Row{
		{UserID: 1, TransactionID: "T-1", ItemID: "I-1", Price: 10,
			PaymentMethod: "COD", ShippingRisk: "High", Category: "Electronics"},
	}

	ds := Materialize(rows)

	if ds.Transactions[0].PaymentMethod != "COD" {
		t.Errorf("payment method not carried: %s", ds.Transactions[0].PaymentMethod)
	}
	if ds.Transactions[0].ShippingAddressRisk != "High" {
		t.Errorf("shipping risk not carried: %s", ds.Transactions[0].ShippingAddressRisk)
	}
	if ds.Items[0].Category != "Electronics" {
		t.Errorf("category not carried: %s", ds.Items[0].Category)
	}
}
