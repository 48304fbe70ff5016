package service

import (
	"fmt"

	"github.com/hashicorp/consul/api"
)

// ConsulRegistry 封装 Consul 注册与注销
// 使用前请确保 Consul agent 已启动

type ConsulRegistry struct {
	client *api.Client
	nodeID string
}

// NewConsulRegistry 支持多个 Consul 地址高可用
func NewConsulRegistry(addrs []string, nodeID string) (*ConsulRegistry, error) {
	var lastErr error
	for _, addr := range addrs {
		cfg := api.DefaultConfig()
		cfg.Address = addr
		cli, err := api.NewClient(cfg)
		if err == nil {
			_, errPing := cli.Agent().Self()
			if errPing == nil {
				return &ConsulRegistry{client: cli, nodeID: nodeID}, nil
			}
			lastErr = errPing
		} else {
			lastErr = err
		}
	}
	return nil, fmt.Errorf("all consul addresses failed: %v", lastErr)
}

// Register 注册交易核心节点到 Consul
func (c *ConsulRegistry) Register(serviceName string, port int, quoteAssets []string) error {
	reg := &api.AgentServiceRegistration{
		ID:   c.nodeID,
		Name: serviceName,
		Port: port,
		Tags: quoteAssets,
		Check: &api.AgentServiceCheck{
			TCP:      fmt.Sprintf("127.0.0.1:%d", port),
			Interval: "10s",
			Timeout:  "2s",
		},
	}
	return c.client.Agent().ServiceRegister(reg)
}

// Deregister 注销节点
func (c *ConsulRegistry) Deregister() error {
	return c.client.Agent().ServiceDeregister(c.nodeID)
}
