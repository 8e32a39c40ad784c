package api

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"evalgo.org/nimbus/models"
)

// listNodes returns every node with its instances.
// @Summary List instances grouped by node
// @Tags nodes
// @Produce json
// @Success 200 {object} models.InstancesNode
// @Router /nodes [get]
func (s *Server) listNodes(c echo.Context) error {
	nodes, err := s.store.GroupInstancesByNode()
	if err != nil {
		return InternalError("Failed to group instances", err.Error())
	}
	if nodes == nil {
		nodes = models.InstancesNode{}
	}

	return c.JSON(http.StatusOK, nodes)
}

// listNodeInstances returns the instances of one node in the
// instance.sync_node payload shape.
// @Summary List the instances of a node
// @Tags nodes
// @Produce json
// @Param node path string true "Node ID"
// @Success 200 {object} models.DispatchData
// @Router /nodes/{node}/instances [get]
func (s *Server) listNodeInstances(c echo.Context) error {
	node := c.Param("node")

	list, err := s.store.GetInstancesByNode(node)
	if err != nil {
		return StorageError("Node", node, err)
	}

	return c.JSON(http.StatusOK, models.SyncNodeDispatch(node, list).Data)
}

// getStatistics returns instance counts.
// @Summary Instance statistics
// @Tags stats
// @Produce json
// @Success 200 {object} StatsResponse
// @Router /stats [get]
func (s *Server) getStatistics(c echo.Context) error {
	total, err := s.store.CountInstances()
	if err != nil {
		return InternalError("Failed to count instances", err.Error())
	}

	byNode, err := s.store.CountInstancesByNode()
	if err != nil {
		return InternalError("Failed to count instances by node", err.Error())
	}
	if byNode == nil {
		byNode = map[string]int{}
	}

	all, err := s.store.ListInstances(models.Filter{})
	if err != nil {
		return InternalError("Failed to list instances", err.Error())
	}
	active := 0
	for _, inst := range all {
		if inst.IsActive() {
			active++
		}
	}

	return c.JSON(http.StatusOK, StatsResponse{
		Instances:        total,
		Active:           active,
		Nodes:            byNode,
		WebSocketClients: s.hub.ClientCount(),
	})
}
