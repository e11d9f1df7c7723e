package deps

import (
	"time"

	"github.com/medwatch/medwatch/internal/callcontrol"
	"github.com/medwatch/medwatch/internal/logger"
	"github.com/medwatch/medwatch/internal/probe"
	"github.com/medwatch/medwatch/internal/registry"
	"github.com/medwatch/medwatch/internal/supervisor"
	redisstore "github.com/medwatch/medwatch/internal/store/redis"
)

type Deps struct {
	Logger      logger.Logger
	StartTime   time.Time
	Version     string
	Commit      string
	BuildDate   string
	GoVersion   string
	Registry    *registry.HostRegistry // connected media hosts
	Supervisor  *supervisor.Supervisor // for the reconnecting host list
	CallControl *callcontrol.Monitor   // nil when no call-control host is configured
	Prober      *probe.Prober          // nil when liveness probing is disabled
	Store       *redisstore.Store      // nil when snapshots are disabled
	Ready       func() bool            // true once startup connects are dispatched
}
