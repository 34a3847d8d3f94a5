package storage

import (
	"encoding/json"
	"fmt"
	"path/filepath"

	"github.com/homelabhq/hub/pkg/herrors"
	"github.com/homelabhq/hub/pkg/types"
	bolt "go.etcd.io/bbolt"
)

var (
	bucketServers             = []byte("servers")
	bucketServersByGUID       = []byte("servers_by_guid")
	bucketCredentials         = []byte("credentials")
	bucketHostKeys            = []byte("host_keys")
	bucketRegistrationTokens  = []byte("registration_tokens")
	bucketAgentCredentials    = []byte("agent_credentials")
	bucketAlertStates         = []byte("alert_states")
	bucketAlerts              = []byte("alerts")
	bucketActions             = []byte("actions")
	bucketPacks               = []byte("packs")
	bucketConfigApplies       = []byte("config_applies")
	bucketConfigChecks        = []byte("config_checks")
	bucketPendingPackages     = []byte("pending_packages")
	bucketExpectedServices    = []byte("expected_services")
	bucketMetrics             = []byte("metrics_history")
	bucketReportedServices    = []byte("reported_services")
)

// maxMetricsHistoryPerServer bounds the append-only metrics list kept
// per server, so a server heartbeating every 30s for months doesn't
// grow its bucket value without limit.
const maxMetricsHistoryPerServer = 2880 // 24h at one sample per 30s

// BoltStore implements Store on top of an embedded bbolt database, one
// bucket per entity, JSON-encoded values.
type BoltStore struct {
	db *bolt.DB
}

// NewBoltStore opens (creating if absent) the hub database under dataDir.
func NewBoltStore(dataDir string) (*BoltStore, error) {
	dbPath := filepath.Join(dataDir, "hub.db")

	db, err := bolt.Open(dbPath, 0600, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		buckets := [][]byte{
			bucketServers,
			bucketServersByGUID,
			bucketCredentials,
			bucketHostKeys,
			bucketRegistrationTokens,
			bucketAgentCredentials,
			bucketAlertStates,
			bucketAlerts,
			bucketActions,
			bucketPacks,
			bucketConfigApplies,
			bucketConfigChecks,
			bucketPendingPackages,
			bucketExpectedServices,
			bucketMetrics,
			bucketReportedServices,
		}
		for _, bucket := range buckets {
			if _, err := tx.CreateBucketIfNotExists(bucket); err != nil {
				return fmt.Errorf("failed to create bucket %s: %w", bucket, err)
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, err
	}

	return &BoltStore{db: db}, nil
}

// Close closes the underlying database.
func (s *BoltStore) Close() error {
	return s.db.Close()
}

// --- Servers ---

func (s *BoltStore) CreateServer(server *types.Server) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return putServer(tx, server)
	})
}

func putServer(tx *bolt.Tx, server *types.Server) error {
	data, err := json.Marshal(server)
	if err != nil {
		return err
	}
	if err := tx.Bucket(bucketServers).Put([]byte(server.ID), data); err != nil {
		return err
	}
	return tx.Bucket(bucketServersByGUID).Put([]byte(server.GUID), []byte(server.ID))
}

func (s *BoltStore) GetServer(id string) (*types.Server, error) {
	var server types.Server
	err := s.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket(bucketServers).Get([]byte(id))
		if data == nil {
			return &herrors.NotFound{Kind: "server", ID: id}
		}
		return json.Unmarshal(data, &server)
	})
	if err != nil {
		return nil, err
	}
	return &server, nil
}

func (s *BoltStore) GetServerByGUID(guid string) (*types.Server, error) {
	var id string
	err := s.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket(bucketServersByGUID).Get([]byte(guid))
		if data == nil {
			return &herrors.NotFound{Kind: "server", ID: guid}
		}
		id = string(data)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return s.GetServer(id)
}

func (s *BoltStore) GetServerByHostname(hostname string) (*types.Server, error) {
	var found *types.Server
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketServers).ForEach(func(k, v []byte) error {
			var server types.Server
			if err := json.Unmarshal(v, &server); err != nil {
				return err
			}
			if server.Hostname == hostname {
				found = &server
			}
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	if found == nil {
		return nil, &herrors.NotFound{Kind: "server", ID: hostname}
	}
	return found, nil
}

func (s *BoltStore) ListServers() ([]*types.Server, error) {
	var servers []*types.Server
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketServers).ForEach(func(k, v []byte) error {
			var server types.Server
			if err := json.Unmarshal(v, &server); err != nil {
				return err
			}
			servers = append(servers, &server)
			return nil
		})
	})
	return servers, err
}

func (s *BoltStore) UpdateServer(server *types.Server) error {
	return s.CreateServer(server)
}

func (s *BoltStore) DeleteServer(id string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		server, err := s.GetServer(id)
		if err == nil {
			tx.Bucket(bucketServersByGUID).Delete([]byte(server.GUID))
		}
		return tx.Bucket(bucketServers).Delete([]byte(id))
	})
}

func (s *BoltStore) CountServersByStatus() (map[string]int, error) {
	counts := make(map[string]int)
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketServers).ForEach(func(k, v []byte) error {
			var server types.Server
			if err := json.Unmarshal(v, &server); err != nil {
				return err
			}
			counts[string(server.Status)]++
			return nil
		})
	})
	return counts, err
}

// --- Credentials ---

func (s *BoltStore) PutCredential(cred *types.Credential) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		data, err := json.Marshal(cred)
		if err != nil {
			return err
		}
		return tx.Bucket(bucketCredentials).Put([]byte(cred.ID), data)
	})
}

func (s *BoltStore) GetCredential(id string) (*types.Credential, error) {
	var cred types.Credential
	err := s.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket(bucketCredentials).Get([]byte(id))
		if data == nil {
			return &herrors.NotFound{Kind: "credential", ID: id}
		}
		return json.Unmarshal(data, &cred)
	})
	if err != nil {
		return nil, err
	}
	return &cred, nil
}

func (s *BoltStore) ListCredentialsByType(credType types.CredentialType, serverID *string) ([]*types.Credential, error) {
	var creds []*types.Credential
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketCredentials).ForEach(func(k, v []byte) error {
			var cred types.Credential
			if err := json.Unmarshal(v, &cred); err != nil {
				return err
			}
			if cred.CredentialType != credType {
				return nil
			}
			if serverID == nil && cred.ServerID != nil {
				return nil
			}
			if serverID != nil && (cred.ServerID == nil || *cred.ServerID != *serverID) {
				return nil
			}
			creds = append(creds, &cred)
			return nil
		})
	})
	return creds, err
}

func (s *BoltStore) DeleteCredential(id string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketCredentials).Delete([]byte(id))
	})
}

// --- Host keys ---

func (s *BoltStore) GetHostKey(machineID string) (*types.HostKey, error) {
	var hk types.HostKey
	err := s.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket(bucketHostKeys).Get([]byte(machineID))
		if data == nil {
			return &herrors.NotFound{Kind: "host_key", ID: machineID}
		}
		return json.Unmarshal(data, &hk)
	})
	if err != nil {
		return nil, err
	}
	return &hk, nil
}

func (s *BoltStore) PutHostKey(hostKey *types.HostKey) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		data, err := json.Marshal(hostKey)
		if err != nil {
			return err
		}
		return tx.Bucket(bucketHostKeys).Put([]byte(hostKey.MachineID), data)
	})
}

// --- Registration tokens ---

func (s *BoltStore) CreateRegistrationToken(tok *types.RegistrationToken) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return putRegistrationToken(tx, tok)
	})
}

func putRegistrationToken(tx *bolt.Tx, tok *types.RegistrationToken) error {
	data, err := json.Marshal(tok)
	if err != nil {
		return err
	}
	return tx.Bucket(bucketRegistrationTokens).Put([]byte(tok.TokenHash), data)
}

func (s *BoltStore) GetRegistrationTokenByHash(hash string) (*types.RegistrationToken, error) {
	var tok types.RegistrationToken
	err := s.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket(bucketRegistrationTokens).Get([]byte(hash))
		if data == nil {
			return &herrors.NotFound{Kind: "registration_token", ID: hash}
		}
		return json.Unmarshal(data, &tok)
	})
	if err != nil {
		return nil, err
	}
	return &tok, nil
}

func (s *BoltStore) UpdateRegistrationToken(tok *types.RegistrationToken) error {
	return s.CreateRegistrationToken(tok)
}

// --- Agent credentials ---

func (s *BoltStore) PutAgentCredential(cred *types.AgentCredential) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return putAgentCredential(tx, cred)
	})
}

func putAgentCredential(tx *bolt.Tx, cred *types.AgentCredential) error {
	data, err := json.Marshal(cred)
	if err != nil {
		return err
	}
	return tx.Bucket(bucketAgentCredentials).Put([]byte(cred.ServerGUID), data)
}

func (s *BoltStore) GetAgentCredentialByGUID(guid string) (*types.AgentCredential, error) {
	var cred types.AgentCredential
	err := s.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket(bucketAgentCredentials).Get([]byte(guid))
		if data == nil {
			return &herrors.NotFound{Kind: "agent_credential", ID: guid}
		}
		return json.Unmarshal(data, &cred)
	})
	if err != nil {
		return nil, err
	}
	return &cred, nil
}

// ClaimRegistrationToken creates the server row, mints its agent
// credential, and marks the registration token claimed in one bbolt
// transaction: either all three happen or none do.
func (s *BoltStore) ClaimRegistrationToken(tokenHash string, server *types.Server, cred *types.AgentCredential) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		data := tx.Bucket(bucketRegistrationTokens).Get([]byte(tokenHash))
		if data == nil {
			return &herrors.NotFound{Kind: "registration_token", ID: tokenHash}
		}
		var tok types.RegistrationToken
		if err := json.Unmarshal(data, &tok); err != nil {
			return err
		}
		if tok.ClaimedAt != nil {
			return &herrors.Conflict{Message: "registration token already claimed: " + tokenHash}
		}
		now := server.CreatedAt
		tok.ClaimedAt = &now
		tok.ClaimedByServerID = &server.ID

		if err := putServer(tx, server); err != nil {
			return err
		}
		if err := putAgentCredential(tx, cred); err != nil {
			return err
		}
		return putRegistrationToken(tx, &tok)
	})
}

// --- Alert state ---

func alertStateKey(serverID string, metricType types.MetricType) []byte {
	return []byte(serverID + "|" + string(metricType))
}

func (s *BoltStore) GetAlertState(serverID string, metricType types.MetricType) (*types.AlertState, error) {
	var state types.AlertState
	err := s.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket(bucketAlertStates).Get(alertStateKey(serverID, metricType))
		if data == nil {
			return &herrors.NotFound{Kind: "alert_state", ID: serverID + "|" + string(metricType)}
		}
		return json.Unmarshal(data, &state)
	})
	if err != nil {
		return nil, err
	}
	return &state, nil
}

func (s *BoltStore) PutAlertState(state *types.AlertState) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		data, err := json.Marshal(state)
		if err != nil {
			return err
		}
		return tx.Bucket(bucketAlertStates).Put(alertStateKey(state.ServerID, state.MetricType), data)
	})
}

func (s *BoltStore) ListAlertStatesByServer(serverID string) ([]*types.AlertState, error) {
	var states []*types.AlertState
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketAlertStates).ForEach(func(k, v []byte) error {
			var state types.AlertState
			if err := json.Unmarshal(v, &state); err != nil {
				return err
			}
			if state.ServerID == serverID {
				states = append(states, &state)
			}
			return nil
		})
	})
	return states, err
}

func (s *BoltStore) DeleteAlertState(serverID string, metricType types.MetricType) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketAlertStates).Delete(alertStateKey(serverID, metricType))
	})
}

// --- Alerts ---

func (s *BoltStore) CreateAlert(alert *types.Alert) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		data, err := json.Marshal(alert)
		if err != nil {
			return err
		}
		return tx.Bucket(bucketAlerts).Put([]byte(alert.ID), data)
	})
}

func (s *BoltStore) GetAlert(id string) (*types.Alert, error) {
	var alert types.Alert
	err := s.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket(bucketAlerts).Get([]byte(id))
		if data == nil {
			return &herrors.NotFound{Kind: "alert", ID: id}
		}
		return json.Unmarshal(data, &alert)
	})
	if err != nil {
		return nil, err
	}
	return &alert, nil
}

func (s *BoltStore) UpdateAlert(alert *types.Alert) error {
	return s.CreateAlert(alert)
}

func (s *BoltStore) ListOpenAlerts() ([]*types.Alert, error) {
	var alerts []*types.Alert
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketAlerts).ForEach(func(k, v []byte) error {
			var alert types.Alert
			if err := json.Unmarshal(v, &alert); err != nil {
				return err
			}
			if alert.Status == types.AlertStatusOpen || alert.Status == types.AlertStatusAcknowledged {
				alerts = append(alerts, &alert)
			}
			return nil
		})
	})
	return alerts, err
}

func (s *BoltStore) ListAlertsByServer(serverID string) ([]*types.Alert, error) {
	var alerts []*types.Alert
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketAlerts).ForEach(func(k, v []byte) error {
			var alert types.Alert
			if err := json.Unmarshal(v, &alert); err != nil {
				return err
			}
			if alert.ServerID == serverID {
				alerts = append(alerts, &alert)
			}
			return nil
		})
	})
	return alerts, err
}

// --- Remediation actions ---

func (s *BoltStore) CreateAction(action *types.RemediationAction) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		data, err := json.Marshal(action)
		if err != nil {
			return err
		}
		return tx.Bucket(bucketActions).Put([]byte(action.ID), data)
	})
}

func (s *BoltStore) GetAction(id string) (*types.RemediationAction, error) {
	var action types.RemediationAction
	err := s.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket(bucketActions).Get([]byte(id))
		if data == nil {
			return &herrors.NotFound{Kind: "action", ID: id}
		}
		return json.Unmarshal(data, &action)
	})
	if err != nil {
		return nil, err
	}
	return &action, nil
}

func (s *BoltStore) UpdateAction(action *types.RemediationAction) error {
	return s.CreateAction(action)
}

func (s *BoltStore) ListActionsByStatus(status types.ActionStatus) ([]*types.RemediationAction, error) {
	var actions []*types.RemediationAction
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketActions).ForEach(func(k, v []byte) error {
			var action types.RemediationAction
			if err := json.Unmarshal(v, &action); err != nil {
				return err
			}
			if action.Status == status {
				actions = append(actions, &action)
			}
			return nil
		})
	})
	return actions, err
}

func (s *BoltStore) ListActionsByServer(serverID string) ([]*types.RemediationAction, error) {
	var actions []*types.RemediationAction
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketActions).ForEach(func(k, v []byte) error {
			var action types.RemediationAction
			if err := json.Unmarshal(v, &action); err != nil {
				return err
			}
			if action.ServerID == serverID {
				actions = append(actions, &action)
			}
			return nil
		})
	})
	return actions, err
}

// --- Config packs ---

func (s *BoltStore) PutPack(pack *types.Pack) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		data, err := json.Marshal(pack)
		if err != nil {
			return err
		}
		return tx.Bucket(bucketPacks).Put([]byte(pack.Name), data)
	})
}

func (s *BoltStore) GetPack(name string) (*types.Pack, error) {
	var pack types.Pack
	err := s.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket(bucketPacks).Get([]byte(name))
		if data == nil {
			return &herrors.NotFound{Kind: "pack", ID: name}
		}
		return json.Unmarshal(data, &pack)
	})
	if err != nil {
		return nil, err
	}
	return &pack, nil
}

func (s *BoltStore) ListPacks() ([]*types.Pack, error) {
	var packs []*types.Pack
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketPacks).ForEach(func(k, v []byte) error {
			var pack types.Pack
			if err := json.Unmarshal(v, &pack); err != nil {
				return err
			}
			packs = append(packs, &pack)
			return nil
		})
	})
	return packs, err
}

func (s *BoltStore) DeletePack(name string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketPacks).Delete([]byte(name))
	})
}

// --- Config apply runs ---

func (s *BoltStore) CreateConfigApply(apply *types.ConfigApply) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		data, err := json.Marshal(apply)
		if err != nil {
			return err
		}
		return tx.Bucket(bucketConfigApplies).Put([]byte(apply.ID), data)
	})
}

func (s *BoltStore) GetConfigApply(id string) (*types.ConfigApply, error) {
	var apply types.ConfigApply
	err := s.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket(bucketConfigApplies).Get([]byte(id))
		if data == nil {
			return &herrors.NotFound{Kind: "config_apply", ID: id}
		}
		return json.Unmarshal(data, &apply)
	})
	if err != nil {
		return nil, err
	}
	return &apply, nil
}

func (s *BoltStore) UpdateConfigApply(apply *types.ConfigApply) error {
	return s.CreateConfigApply(apply)
}

func (s *BoltStore) ListConfigAppliesByServer(serverID string) ([]*types.ConfigApply, error) {
	var applies []*types.ConfigApply
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketConfigApplies).ForEach(func(k, v []byte) error {
			var apply types.ConfigApply
			if err := json.Unmarshal(v, &apply); err != nil {
				return err
			}
			if apply.ServerID == serverID {
				applies = append(applies, &apply)
			}
			return nil
		})
	})
	return applies, err
}

// --- Config compliance checks ---

func (s *BoltStore) CreateConfigCheck(check *types.ConfigCheck) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		data, err := json.Marshal(check)
		if err != nil {
			return err
		}
		return tx.Bucket(bucketConfigChecks).Put([]byte(check.ID), data)
	})
}

func (s *BoltStore) ListConfigChecksByServerAndPack(serverID, packName string) ([]*types.ConfigCheck, error) {
	var checks []*types.ConfigCheck
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketConfigChecks).ForEach(func(k, v []byte) error {
			var check types.ConfigCheck
			if err := json.Unmarshal(v, &check); err != nil {
				return err
			}
			if check.ServerID == serverID && check.PackName == packName {
				checks = append(checks, &check)
			}
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	sortConfigChecksByTimeDesc(checks)
	return checks, nil
}

func sortConfigChecksByTimeDesc(checks []*types.ConfigCheck) {
	for i := 1; i < len(checks); i++ {
		j := i
		for j > 0 && checks[j-1].CheckedAt.Before(checks[j].CheckedAt) {
			checks[j-1], checks[j] = checks[j], checks[j-1]
			j--
		}
	}
}

// --- Pending packages ---

func (s *BoltStore) ReplacePendingPackages(serverID string, pkgs []types.PendingPackage) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		data, err := json.Marshal(pkgs)
		if err != nil {
			return err
		}
		return tx.Bucket(bucketPendingPackages).Put([]byte(serverID), data)
	})
}

func (s *BoltStore) ListPendingPackagesByServer(serverID string) ([]types.PendingPackage, error) {
	var pkgs []types.PendingPackage
	err := s.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket(bucketPendingPackages).Get([]byte(serverID))
		if data == nil {
			return nil
		}
		return json.Unmarshal(data, &pkgs)
	})
	return pkgs, err
}

// --- Expected services ---

func expectedServiceKey(serverID, name string) []byte {
	return []byte(serverID + "|" + name)
}

func (s *BoltStore) PutExpectedService(svc *types.ExpectedService) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		data, err := json.Marshal(svc)
		if err != nil {
			return err
		}
		return tx.Bucket(bucketExpectedServices).Put(expectedServiceKey(svc.ServerID, svc.Name), data)
	})
}

func (s *BoltStore) ListExpectedServicesByServer(serverID string) ([]*types.ExpectedService, error) {
	var services []*types.ExpectedService
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketExpectedServices).ForEach(func(k, v []byte) error {
			var svc types.ExpectedService
			if err := json.Unmarshal(v, &svc); err != nil {
				return err
			}
			if svc.ServerID == serverID {
				services = append(services, &svc)
			}
			return nil
		})
	})
	return services, err
}

func (s *BoltStore) DeleteExpectedService(serverID, name string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketExpectedServices).Delete(expectedServiceKey(serverID, name))
	})
}

// --- Metrics history ---

func (s *BoltStore) CreateMetrics(m *types.Metrics) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		bucket := tx.Bucket(bucketMetrics)
		var history []*types.Metrics
		if data := bucket.Get([]byte(m.ServerID)); data != nil {
			if err := json.Unmarshal(data, &history); err != nil {
				return err
			}
		}
		history = append(history, m)
		if len(history) > maxMetricsHistoryPerServer {
			history = history[len(history)-maxMetricsHistoryPerServer:]
		}
		data, err := json.Marshal(history)
		if err != nil {
			return err
		}
		return bucket.Put([]byte(m.ServerID), data)
	})
}

func (s *BoltStore) ListRecentMetrics(serverID string, limit int) ([]*types.Metrics, error) {
	var history []*types.Metrics
	err := s.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket(bucketMetrics).Get([]byte(serverID))
		if data == nil {
			return nil
		}
		return json.Unmarshal(data, &history)
	})
	if err != nil {
		return nil, err
	}
	if limit > 0 && len(history) > limit {
		history = history[len(history)-limit:]
	}
	return history, nil
}

// --- Reported services ---

func reportedServiceKey(serverID, name string) []byte {
	return []byte(serverID + "|" + name)
}

func (s *BoltStore) PutReportedService(serverID string, svc *types.ReportedService) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		data, err := json.Marshal(svc)
		if err != nil {
			return err
		}
		return tx.Bucket(bucketReportedServices).Put(reportedServiceKey(serverID, svc.Name), data)
	})
}

func (s *BoltStore) ListReportedServicesByServer(serverID string) ([]*types.ReportedService, error) {
	prefix := []byte(serverID + "|")
	var services []*types.ReportedService
	err := s.db.View(func(tx *bolt.Tx) error {
		c := tx.Bucket(bucketReportedServices).Cursor()
		for k, v := c.Seek(prefix); k != nil && hasPrefix(k, prefix); k, v = c.Next() {
			var svc types.ReportedService
			if err := json.Unmarshal(v, &svc); err != nil {
				return err
			}
			services = append(services, &svc)
		}
		return nil
	})
	return services, err
}

func hasPrefix(b, prefix []byte) bool {
	if len(b) < len(prefix) {
		return false
	}
	for i := range prefix {
		if b[i] != prefix[i] {
			return false
		}
	}
	return true
}
