package manager

import "testing"

func TestPartitionOrdersSharesWorkerForSharedTables(t *testing.T) {
	orders := []orderDecl{
		{name: "getUser", tables: []string{"users"}},
		{name: "getOrders", tables: []string{"orders", "users"}},
		{name: "getAccounts", tables: []string{"accounts"}},
	}
	res := partitionOrders(orders, 4)

	if res.orderOwner["getUser"] != res.orderOwner["getOrders"] {
		t.Fatalf("getUser and getOrders share table %q but landed on different workers: %d vs %d",
			"users", res.orderOwner["getUser"], res.orderOwner["getOrders"])
	}
	if res.tableOwner["users"] != res.tableOwner["orders"] {
		t.Fatalf("users and orders share an order but have different owners: %d vs %d",
			res.tableOwner["users"], res.tableOwner["orders"])
	}
}

func TestPartitionOrdersDisjointGroupsMayDiffer(t *testing.T) {
	orders := []orderDecl{
		{name: "a", tables: []string{"t1"}},
		{name: "b", tables: []string{"t2"}},
	}
	res := partitionOrders(orders, 4)
	if _, ok := res.tableOwner["t1"]; !ok {
		t.Fatal("t1 was not assigned an owner")
	}
	if _, ok := res.tableOwner["t2"]; !ok {
		t.Fatal("t2 was not assigned an owner")
	}
}

func TestPartitionOrdersWithNoTablesGetsSpread(t *testing.T) {
	orders := []orderDecl{
		{name: "noop1"},
		{name: "noop2"},
	}
	res := partitionOrders(orders, 4)
	if len(res.tableOwner) != 0 {
		t.Fatalf("orders declaring no tables should not claim table ownership, got %v", res.tableOwner)
	}
	if _, ok := res.orderOwner["noop1"]; !ok {
		t.Fatal("noop1 was not assigned a worker")
	}
}

func TestPartitionOrdersTransitiveChain(t *testing.T) {
	// a-b via order1, b-c via order2: a and c must end up on the same
	// worker even though no single order names both.
	orders := []orderDecl{
		{name: "order1", tables: []string{"a", "b"}},
		{name: "order2", tables: []string{"b", "c"}},
	}
	res := partitionOrders(orders, 4)
	if res.tableOwner["a"] != res.tableOwner["c"] {
		t.Fatalf("transitively linked tables a and c got different owners: %d vs %d",
			res.tableOwner["a"], res.tableOwner["c"])
	}
}
