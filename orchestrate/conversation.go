package orchestrate

import (
	"fmt"
	"sync"

	"github.com/randalmurphal/llmflow/provider"
	"github.com/randalmurphal/llmflow/store"
)

// Conversation is the ordered message history for one conversation,
// owned exclusively by the orchestrator. It is mutated only through
// orchestrator calls and destroyed on explicit deletion.
type Conversation struct {
	ID     string `json:"id"`
	UserID string `json:"user_id"`

	// ProviderID and ModelID are the bound execution target. Empty
	// until the first request selects one; degradation and failover
	// may rebind.
	ProviderID string `json:"provider_id,omitempty"`
	ModelID    string `json:"model_id,omitempty"`

	Messages []provider.Message `json:"messages"`
}

type pairKey struct {
	conversationID string
	modelID        string
}

// lockPair returns the exclusive lock serializing counter mutation for
// one (conversation, model) pair.
func (o *Orchestrator) lockPair(conversationID, modelID string) *sync.Mutex {
	o.mu.Lock()
	defer o.mu.Unlock()

	key := pairKey{conversationID, modelID}
	l, ok := o.locks[key]
	if !ok {
		l = &sync.Mutex{}
		o.locks[key] = l
	}
	return l
}

func (o *Orchestrator) conversation(id, userID string) *Conversation {
	o.mu.Lock()
	defer o.mu.Unlock()

	c, ok := o.convs[id]
	if !ok {
		c = &Conversation{ID: id, UserID: userID}
		o.convs[id] = c
	}
	return c
}

// Conversation returns a snapshot copy of a conversation's state.
func (o *Orchestrator) Conversation(id string) (Conversation, bool) {
	o.mu.RLock()
	defer o.mu.RUnlock()

	c, ok := o.convs[id]
	if !ok {
		return Conversation{}, false
	}
	snap := *c
	snap.Messages = append([]provider.Message(nil), c.Messages...)
	return snap, true
}

// DeleteConversation destroys a conversation: message history, usage
// counters, and any persisted snapshot.
func (o *Orchestrator) DeleteConversation(id string) error {
	o.mu.Lock()
	c, ok := o.convs[id]
	delete(o.convs, id)
	o.mu.Unlock()

	if ok && c.ModelID != "" {
		o.tracker.Reset(id, c.ModelID)
	}
	if o.store != nil {
		return o.store.Delete(conversationKey(id))
	}
	return nil
}

func conversationKey(id string) string { return "conversation/" + id }

// SaveConversation persists a conversation snapshot to the store.
func (o *Orchestrator) SaveConversation(id string) error {
	if o.store == nil {
		return fmt.Errorf("save conversation %q: no store configured", id)
	}
	snap, ok := o.Conversation(id)
	if !ok {
		return fmt.Errorf("save conversation %q: %w", id, store.ErrNotFound)
	}
	return o.store.Save(conversationKey(id), snap)
}

// LoadConversation restores a conversation from the store, re-declaring
// model capacity and re-seeding the usage counter from the restored
// history. A loaded conversation replaces any in-memory one with the
// same id.
func (o *Orchestrator) LoadConversation(id string) (Conversation, error) {
	if o.store == nil {
		return Conversation{}, fmt.Errorf("load conversation %q: no store configured", id)
	}

	var c Conversation
	if err := o.store.Load(conversationKey(id), &c); err != nil {
		return Conversation{}, fmt.Errorf("load conversation %q: %w", id, err)
	}

	if c.ProviderID != "" && c.ModelID != "" {
		desc, err := o.registry.Get(c.ProviderID)
		if err != nil {
			return Conversation{}, fmt.Errorf("load conversation %q: %w", id, err)
		}
		model, ok := desc.Model(c.ModelID)
		if !ok {
			return Conversation{}, fmt.Errorf("load conversation %q: model %q not offered by %q", id, c.ModelID, c.ProviderID)
		}
		o.tracker.DeclareCapacity(c.ModelID, model.Capacity)

		count, err := o.engine.CountHistory(c.Messages, c.ModelID)
		if err != nil {
			return Conversation{}, fmt.Errorf("load conversation %q: %w", id, err)
		}
		o.tracker.Reset(id, c.ModelID)
		if err := o.tracker.Seed(id, c.ModelID, count); err != nil {
			return Conversation{}, fmt.Errorf("load conversation %q: %w", id, err)
		}
	}

	o.mu.Lock()
	o.convs[id] = &c
	o.mu.Unlock()

	snap := c
	snap.Messages = append([]provider.Message(nil), c.Messages...)
	return snap, nil
}

// SaveState persists every conversation, the registered provider
// descriptors, and the budgets of every user seen so far.
func (o *Orchestrator) SaveState() error {
	if o.store == nil {
		return fmt.Errorf("save state: no store configured")
	}

	o.mu.RLock()
	ids := make([]string, 0, len(o.convs))
	for id := range o.convs {
		ids = append(ids, id)
	}
	users := make([]string, 0, len(o.users))
	for u := range o.users {
		users = append(users, u)
	}
	o.mu.RUnlock()

	for _, id := range ids {
		if err := o.SaveConversation(id); err != nil {
			return err
		}
	}

	descs := make([]provider.Descriptor, 0)
	for _, pid := range o.registry.Available() {
		if d, err := o.registry.Get(pid); err == nil {
			descs = append(descs, d)
		}
	}
	if err := o.store.Save("providers", descs); err != nil {
		return fmt.Errorf("save state: %w", err)
	}

	for _, u := range users {
		b, err := o.ledger.Budget(u)
		if err != nil {
			continue
		}
		if err := o.store.Save("budget/"+u, b); err != nil {
			return fmt.Errorf("save state: %w", err)
		}
	}
	return nil
}
