package api

// StatsResponse summarizes the stored instances.
type StatsResponse struct {
	Instances        int            `json:"instances"`
	Active           int            `json:"active"`
	Nodes            map[string]int `json:"nodes"`
	WebSocketClients int            `json:"websocket_clients"`
}

// WebSocketStats describes the websocket hub.
type WebSocketStats struct {
	ConnectedClients int    `json:"connected_clients"`
	Status           string `json:"status"`
}
