package bus

import (
	"testing"

	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"

	"github.com/sells-group/refdata-migrate/internal/model"
)

func TestBus_DeliversToSubscribersInOrder(t *testing.T) {
	b := New()

	var order []string
	b.Subscribe(TopicStageComplete, func(ev Event) {
		order = append(order, "first:"+ev.Stage.String())
	})
	b.Subscribe(TopicStageComplete, func(ev Event) {
		order = append(order, "second:"+ev.Stage.String())
	})

	b.StageComplete(model.StageLocations)

	assert.Equal(t, []string{"first:locations", "second:locations"}, order)
}

func TestBus_TopicIsolation(t *testing.T) {
	b := New()

	var stageEvents, shutdownEvents int
	b.Subscribe(TopicStageComplete, func(Event) { stageEvents++ })
	b.Subscribe(TopicShutdown, func(Event) { shutdownEvents++ })

	b.StageComplete(model.StageUsers)
	b.Shutdown(nil)
	b.Shutdown(eris.New("boom"))

	assert.Equal(t, 1, stageEvents)
	assert.Equal(t, 2, shutdownEvents)
}

func TestBus_PublishWithoutSubscribersIsNoop(t *testing.T) {
	b := New()
	assert.NotPanics(t, func() {
		b.Publish(Event{Topic: TopicUserResolved, User: UserResolved{Username: "jdoe", ID: "1"}})
	})
}
