package txpool

import (
	"github.com/dposnet/dposd/infrastructure/logger"
	"github.com/dposnet/dposd/util/panics"
)

var log = logger.RegisterSubSystem("TXPL")
var spawn = panics.GoroutineWrapperFunc(log)
