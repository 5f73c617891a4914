package api

// Request bodies. Pointer fields distinguish "absent" from zero.

type createWorldRequest struct {
	Name        string         `json:"name"`
	Public      bool           `json:"public"`
	Description *string        `json:"description"`
	Data        map[string]any `json:"data"`
}

type updateWorldRequest struct {
	Name        *string        `json:"name"`
	Public      *bool          `json:"public"`
	Description *string        `json:"description"`
	Data        map[string]any `json:"data"`
}

type createGameRequest struct {
	WorldID    int64  `json:"world_id"`
	Name       string `json:"name"`
	Public     bool   `json:"public"`
	MaxPlayers int    `json:"max_players"`
}

type updateGameRequest struct {
	Name       *string `json:"name"`
	Public     *bool   `json:"public"`
	MaxPlayers *int    `json:"max_players"`
	HostID     *int64  `json:"host_id"`
}

type readyRequest struct {
	Ready *bool `json:"ready"`
}

type playerIDRequest struct {
	ID int64 `json:"id"`
}

type sendMessageRequest struct {
	Text     string         `json:"text"`
	Special  *string        `json:"special"`
	Metadata map[string]any `json:"metadata"`
}
