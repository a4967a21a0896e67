package peerapi

import (
	"github.com/dposnet/dposd/infrastructure/logger"
	"github.com/dposnet/dposd/util/panics"
)

var log = logger.RegisterSubSystem("PAPI")
var spawn = panics.GoroutineWrapperFunc(log)
