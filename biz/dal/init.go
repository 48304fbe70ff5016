package dal

import (
	"cex-core/biz/dal/kafka"
	"cex-core/biz/dal/pg"
	"cex-core/biz/dal/redis"
)

func Init() {
	pg.Init()
	redis.Init()
	kafka.Init()
}
