package main

import (
	"meetpact/core/logger"
	"meetpact/core/server"
)

// @title MeetPact API
// @version 1.0
// @description Scheduling consensus backend with autonomous agent negotiation

// @license.name MIT
// @license.url https://opensource.org/licenses/MIT

// @host localhost:7070
// @BasePath /api/v1

// @securityDefinitions.apikey BearerAuth
// @in header
// @name Authorization
// @description JWT Bearer token. Example: "Bearer {token}"

func main() {
	if err := server.Run(); err != nil {
		logger.Error("run server error", err)
	}
}
