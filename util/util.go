package util

import (
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/sony/sonyflake"
)

var (
	sonyFlake *sonyflake.Sonyflake
	once      sync.Once
)

// InitSonyFlake 初始化 Snowflake 实例
func InitSonyFlake() {
	once.Do(func() {
		sonyFlake = sonyflake.NewSonyflake(sonyflake.Settings{})
	})
}

// GenerateOrderID 生成唯一订单ID
func GenerateOrderID() (string, error) {
	InitSonyFlake()
	if sonyFlake == nil {
		// NewSonyflake returns nil when no private interface address is
		// usable for the machine id
		return "", errors.New("sonyflake unavailable: no usable machine id")
	}
	id, err := sonyFlake.NextID()
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%d", id), nil
}

// GenerateFillID 生成唯一成交ID
func GenerateFillID() (string, error) {
	return GenerateOrderID()
}

// ParseList 解析逗号分隔的配置项
func ParseList(s string) []string {
	var res []string
	for _, p := range strings.Split(s, ",") {
		p = strings.TrimSpace(p)
		if p != "" {
			res = append(res, p)
		}
	}
	return res
}
