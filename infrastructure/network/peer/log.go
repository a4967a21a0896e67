package peer

import (
	"github.com/dposnet/dposd/infrastructure/logger"
	"github.com/dposnet/dposd/util/panics"
)

var log = logger.RegisterSubSystem("PEER")
var spawn = panics.GoroutineWrapperFunc(log)
