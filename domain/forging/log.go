package forging

import (
	"github.com/dposnet/dposd/infrastructure/logger"
	"github.com/dposnet/dposd/util/panics"
)

var log = logger.RegisterSubSystem("FORG")
var spawn = panics.GoroutineWrapperFunc(log)
