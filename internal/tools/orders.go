package tools

// Order is one canned order record returned by get_orders.
type Order struct {
	ID       string `json:"id"`
	Customer string `json:"customer"`
	Item     string `json:"item"`
	Quantity int    `json:"quantity"`
	Status   string `json:"status"`
}

// OrdersResponse is the get_orders result payload.
type OrdersResponse struct {
	Orders []Order `json:"orders"`
}

// scenarioOrders holds the mock dataset per scenario tag.
var scenarioOrders = map[string][]Order{
	"default": {
		{ID: "1001", Customer: "Luke Skywalker", Item: "Lightsaber", Quantity: 1, Status: "shipped"},
		{ID: "1002", Customer: "Han Solo", Item: "Blaster", Quantity: 2, Status: "processing"},
		{ID: "1003", Customer: "Leia Organa", Item: "Droid", Quantity: 1, Status: "delivered"},
	},
	"single": {
		{ID: "4001", Customer: "Obi-Wan Kenobi", Item: "Jedi Robe", Quantity: 1, Status: "shipped"},
	},
	"multiple": {
		{ID: "3001", Customer: "Rey", Item: "Quarterstaff", Quantity: 1, Status: "delivered"},
		{ID: "3002", Customer: "Finn", Item: "Stormtrooper Helmet", Quantity: 1, Status: "shipped"},
		{ID: "3003", Customer: "Poe Dameron", Item: "X-Wing Model", Quantity: 3, Status: "processing"},
	},
	"cancelled": {
		{ID: "2001", Customer: "Mace Windu", Item: "Purple Lightsaber Crystal", Quantity: 1, Status: "cancelled"},
	},
	"returned": {
		{ID: "6001", Customer: "Lando Calrissian", Item: "Cape", Quantity: 1, Status: "returned"},
	},
}

// OrdersForScenario returns a copy of the dataset for scenario. Unknown
// scenarios get the default dataset.
func OrdersForScenario(scenario string) []Order {
	orders, ok := scenarioOrders[scenario]
	if !ok {
		orders = scenarioOrders["default"]
	}
	out := make([]Order, len(orders))
	copy(out, orders)
	return out
}
