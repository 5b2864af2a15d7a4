// Copyright (C) 2022  Shanhu Tech Inc.
//
// This program is free software: you can redistribute it and/or modify it
// under the terms of the GNU Affero General Public License as published by the
// Free Software Foundation, either version 3 of the License, or (at your
// option) any later version.
//
// This program is distributed in the hope that it will be useful, but WITHOUT
// ANY WARRANTY; without even the implied warranty of MERCHANTABILITY or
// FITNESS FOR A PARTICULAR PURPOSE.  See the GNU Affero General Public License
// for more details.
//
// You should have received a copy of the GNU Affero General Public License
// along with this program.  If not, see <https://www.gnu.org/licenses/>.

package upd

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// buildFixtureMap builds a tiny update map by hand: dist/app depends on
// dist/foo.o, which depends on the leaf source src/foo.c.
func buildFixtureMap() *updateMap {
	um := &updateMap{targets: make(map[string]*updateTarget)}
	um.addTarget("dist/foo.o", 0, 0)
	um.targets["dist/foo.o"].inputs = []string{"src/foo.c"}
	um.addTarget("dist/app", 1, 1)
	um.targets["dist/app"].inputs = []string{"dist/foo.o"}
	return um
}

func TestPlannerColdBuildOrdering(t *testing.T) {
	um := buildFixtureMap()
	plan, err := buildPlan(um, []string{"dist/app"}, false)
	require.NoError(t, err)

	first, ok := plan.next()
	require.True(t, ok)
	assert.Equal(t, "dist/foo.o", first, "the leaf-dependent target must be ready before its descendant")

	_, ok = plan.next()
	assert.False(t, ok, "dist/app must not be ready until dist/foo.o completes")

	require.NoError(t, plan.complete(first, stateUpdated))

	second, ok := plan.next()
	require.True(t, ok)
	assert.Equal(t, "dist/app", second)

	require.NoError(t, plan.complete(second, stateUpdated))
	assert.True(t, plan.done())
}

func TestPlannerUnknownTarget(t *testing.T) {
	um := buildFixtureMap()
	_, err := buildPlan(um, []string{"dist/nope"}, false)
	require.Error(t, err)
	_, ok := err.(*unknownTargetError)
	assert.True(t, ok)
}

func TestPlannerAllExpandsEveryTarget(t *testing.T) {
	um := buildFixtureMap()
	plan, err := buildPlan(um, nil, true)
	require.NoError(t, err)

	target, ok := plan.next()
	require.True(t, ok)
	assert.Equal(t, "dist/foo.o", target)
	require.NoError(t, plan.complete(target, stateUpdated))

	target, ok = plan.next()
	require.True(t, ok)
	assert.Equal(t, "dist/app", target)
	require.NoError(t, plan.complete(target, stateUpdated))

	assert.True(t, plan.done())
}

func TestPlannerFIFOOrderAmongSiblings(t *testing.T) {
	um := &updateMap{targets: make(map[string]*updateTarget)}
	um.addTarget("a.o", 0, 0)
	um.addTarget("b.o", 0, 1)

	plan, err := buildPlan(um, []string{"a.o", "b.o"}, false)
	require.NoError(t, err)

	first, ok := plan.next()
	require.True(t, ok)
	assert.Equal(t, "a.o", first)

	second, ok := plan.next()
	require.True(t, ok)
	assert.Equal(t, "b.o", second)
}
