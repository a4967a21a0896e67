package blocks

import (
	"github.com/dposnet/dposd/infrastructure/logger"
	"github.com/dposnet/dposd/util/panics"
)

var log = logger.RegisterSubSystem("CHAN")
var spawn = panics.GoroutineWrapperFunc(log)
