package main

import (
	"github.com/bwmarrin/snowflake"
	"go.uber.org/fx"

	"github.com/flexwatch/flexwatch/internal/clock"
	"github.com/flexwatch/flexwatch/internal/config"
	"github.com/flexwatch/flexwatch/internal/daemon"
	"github.com/flexwatch/flexwatch/internal/eid"
	"github.com/flexwatch/flexwatch/internal/groups"
	"github.com/flexwatch/flexwatch/internal/lmutil"
	"github.com/flexwatch/flexwatch/internal/monitor"
	"github.com/flexwatch/flexwatch/internal/notify"
	"github.com/flexwatch/flexwatch/internal/server"
	"github.com/flexwatch/flexwatch/internal/stats/repository"
	"github.com/flexwatch/flexwatch/internal/update"
	"github.com/flexwatch/flexwatch/internal/versions"
	"github.com/flexwatch/flexwatch/pkg/db"
	"github.com/flexwatch/flexwatch/pkg/log"
)

func main() {
	app := fx.New(
		// Core infrastructure
		config.Module,
		log.Module,
		fx.Provide(RegisterSnowflake),
		db.Module,
		clock.Module,

		// License monitoring
		lmutil.Module,
		daemon.Module,
		groups.Module,
		eid.Module,
		versions.Module,
		repository.Module,
		notify.Module,
		monitor.Module,
		update.Module,

		server.Module,
	)
	app.Run()
}

func RegisterSnowflake() *snowflake.Node {
	node, err := snowflake.NewNode(1)
	if err != nil {
		panic(err)
	}
	return node
}
