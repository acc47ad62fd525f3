package service

import (
	"slices"

	"github.com/karmaworks-dev/ai-agents-sub000/internal/models"
)

// Удалённая позиция приходит слушателю с Size == 0.
func (r *Reconciler) AddPositionListener(fn func(models.Position)) ListenerID {
	r.lmu.Lock()
	defer r.lmu.Unlock()
	r.nextID++
	r.onPosition = append(r.onPosition, listener[models.Position]{id: r.nextID, fn: fn})
	return r.nextID
}

func (r *Reconciler) AddFillListener(fn func(models.Fill)) ListenerID {
	r.lmu.Lock()
	defer r.lmu.Unlock()
	r.nextID++
	r.onFill = append(r.onFill, listener[models.Fill]{id: r.nextID, fn: fn})
	return r.nextID
}

func (r *Reconciler) AddOrderListener(fn func(models.OrderUpdate)) ListenerID {
	r.lmu.Lock()
	defer r.lmu.Unlock()
	r.nextID++
	r.onOrder = append(r.onOrder, listener[models.OrderUpdate]{id: r.nextID, fn: fn})
	return r.nextID
}

func (r *Reconciler) AddAccountListener(fn func(models.AccountState)) ListenerID {
	r.lmu.Lock()
	defer r.lmu.Unlock()
	r.nextID++
	r.onAccount = append(r.onAccount, listener[models.AccountState]{id: r.nextID, fn: fn})
	return r.nextID
}

// RemoveListener — true, если слушатель был найден.
func (r *Reconciler) RemoveListener(id ListenerID) bool {
	r.lmu.Lock()
	defer r.lmu.Unlock()
	return removeID(&r.onPosition, id) ||
		removeID(&r.onFill, id) ||
		removeID(&r.onOrder, id) ||
		removeID(&r.onAccount, id)
}

func removeID[T any](ls *[]listener[T], id ListenerID) bool {
	i := slices.IndexFunc(*ls, func(l listener[T]) bool { return l.id == id })
	if i < 0 {
		return false
	}
	*ls = slices.Delete(slices.Clone(*ls), i, i+1)
	return true
}

func (r *Reconciler) positionListeners() []listener[models.Position] {
	r.lmu.Lock()
	defer r.lmu.Unlock()
	return r.onPosition
}

func (r *Reconciler) fillListeners() []listener[models.Fill] {
	r.lmu.Lock()
	defer r.lmu.Unlock()
	return r.onFill
}

func (r *Reconciler) orderListeners() []listener[models.OrderUpdate] {
	r.lmu.Lock()
	defer r.lmu.Unlock()
	return r.onOrder
}

func (r *Reconciler) accountListeners() []listener[models.AccountState] {
	r.lmu.Lock()
	defer r.lmu.Unlock()
	return r.onAccount
}
