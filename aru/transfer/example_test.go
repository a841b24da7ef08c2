package transfer_test

import (
	"context"
	"errors"
	"fmt"

	"github.com/impulsar/lib-aru/aru/auth"
	"github.com/impulsar/lib-aru/aru/balance"
	"github.com/impulsar/lib-aru/aru/transfer"
)

func ExampleEngine_BatchTransfer() {
	ctx := context.Background()
	store := balance.NewMemoryStore()
	_ = balance.Set(ctx, store, "distributor", 400)

	engine, _ := transfer.NewEngine(store, transfer.WithClock(transfer.FixedClock(1)))

	receipt, err := engine.BatchTransfer(ctx, auth.Identity{Account: "distributor"}, transfer.BatchRequest{
		Source: "distributor",
		Recipients: []transfer.Recipient{
			{Destination: "alice", Amount: 133},
			{Destination: "bob", Amount: 133},
			{Destination: "carol", Amount: 133},
		},
	})
	if err != nil {
		fmt.Println(err)
		return
	}

	left, _ := engine.Balance(ctx, "distributor")
	fmt.Println(receipt.Count, left)

	_, err = engine.Transfer(ctx, auth.Identity{Account: "distributor"}, transfer.Request{
		Source:      "distributor",
		Destination: "alice",
		Amount:      100,
	})
	fmt.Println(errors.Is(err, transfer.ErrInsufficientFunds))

	// Output:
	// 3 1
	// true
}
