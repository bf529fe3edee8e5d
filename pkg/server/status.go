package server

import (
	"encoding/json"

	"github.com/rotisserie/eris"
	"github.com/shaj13/libcache"

	"github.com/rolling-glass/looking-glass/pkg/config"
	"github.com/rolling-glass/looking-glass/pkg/protocol"

	// Provides libcache.LRU
	_ "github.com/shaj13/libcache/lru"
)

type statusVersion struct {
	Name     string `json:"name"`
	Protocol int32  `json:"protocol"`
}

type playerSample struct {
	Name string `json:"name"`
	ID   string `json:"id"`
}

type statusPlayers struct {
	Max    int            `json:"max"`
	Online int            `json:"online"`
	Sample []playerSample `json:"sample"`
}

type chatText struct {
	Text string `json:"text"`
}

type statusResponse struct {
	Version     statusVersion `json:"version"`
	Players     statusPlayers `json:"players"`
	Description *chatText     `json:"description,omitempty"`
}

// statusCache keeps encoded status response packets keyed by protocol number.
// The response only depends on the protocol number once the config is fixed.
type statusCache struct {
	brand string
	motd  string
	lru   libcache.Cache
}

func newStatusCache(cfg *config.Config) *statusCache {
	c := &statusCache{
		brand: cfg.Brand,
		motd:  cfg.Status.MOTD,
	}

	if cfg.Status.CacheSize > 0 {
		c.lru = libcache.LRU.New(cfg.Status.CacheSize)
	}
	return c
}

func (c *statusCache) encode(protocolNum int32) ([]byte, error) {
	response := statusResponse{
		Version: statusVersion{
			Name:     c.brand,
			Protocol: protocolNum,
		},
		Players: statusPlayers{
			Sample: []playerSample{},
		},
	}

	if c.motd != "" {
		response.Description = &chatText{Text: c.motd}
	}

	payload, err := json.Marshal(response)
	if err != nil {
		return nil, eris.Wrap(err, "failed to encode status response")
	}

	return protocol.AppendStringPacket(nil, protocol.StatusResponseID, string(payload)), nil
}

// Packet returns the complete status response packet for protocolNum
func (c *statusCache) Packet(protocolNum int32) ([]byte, error) {
	if c.lru == nil {
		return c.encode(protocolNum)
	}

	if cached, ok := c.lru.Load(protocolNum); ok {
		return cached.([]byte), nil
	}

	packet, err := c.encode(protocolNum)
	if err != nil {
		return nil, err
	}

	c.lru.Store(protocolNum, packet)
	return packet, nil
}

func disconnectPacket(message string) ([]byte, error) {
	payload, err := json.Marshal(chatText{Text: message})
	if err != nil {
		return nil, eris.Wrap(err, "failed to encode disconnect message")
	}

	return protocol.AppendStringPacket(nil, protocol.LoginDisconnectID, string(payload)), nil
}
