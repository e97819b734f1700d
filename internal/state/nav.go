package state

import "dinein-commerce/internal/models"

// Home is the state every subject starts in.
func Home(subjectID string) *models.ConversationState {
	return &models.ConversationState{
		SubjectID: subjectID,
		Key:       models.StateHome,
		Data:      models.HomeData{},
	}
}

// Advance moves to next, remembering the current key as the back pointer.
func Advance(cur *models.ConversationState, next models.StateKey, data models.StateData) *models.ConversationState {
	if data == nil {
		data = EmptyData(next)
	}
	return &models.ConversationState{
		SubjectID: cur.SubjectID,
		Key:       next,
		Data:      data,
		Back:      cur.Key,
	}
}

// BackTarget resolves the key a "back" request leads to: the stored pointer when it is usable,
// otherwise the declared predecessor, otherwise home.
func BackTarget(cur *models.ConversationState) models.StateKey {
	if cur.Back != "" && cur.Back != cur.Key && cur.Back.Valid() {
		return cur.Back
	}
	if prior, ok := cur.Key.Prior(); ok {
		return prior
	}
	return models.StateHome
}

// Back returns the state after a back request. Data survives when the target shares the flow;
// the new back pointer is the target's declared predecessor.
func Back(cur *models.ConversationState) *models.ConversationState {
	target := BackTarget(cur)

	data := cur.Data
	if data == nil || data.Flow() != target.Flow() {
		data = EmptyData(target)
	}

	prior, _ := target.Prior()
	return &models.ConversationState{
		SubjectID: cur.SubjectID,
		Key:       target,
		Data:      data,
		Back:      prior,
	}
}
