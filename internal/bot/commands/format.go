package commands

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/jensholdgaard/auctiond/internal/auction"
	"github.com/jensholdgaard/auctiond/internal/command"
)

// Lakh renders an amount in lakh, e.g. "2.5L".
func Lakh(d decimal.Decimal) string {
	return d.String() + "L"
}

// FormatStatus summarises the session for /auction-status.
func FormatStatus(snap auction.Snapshot) string {
	var b strings.Builder
	fmt.Fprintf(&b, "**%s** (round %d)\n", snap.Name, snap.Round)
	fmt.Fprintf(&b, "Sold %d · Unsold %d · Remaining %d of %d\n",
		snap.Summary.Sold, snap.Summary.Unsold, len(snap.Available), snap.Summary.Total)

	switch {
	case snap.Phase == auction.PhaseEnded:
		b.WriteString("The auction is complete.\n")
	case snap.CurrentPlayer != nil && snap.Phase == auction.PhaseBidding:
		p := snap.CurrentPlayer
		fmt.Fprintf(&b, "On the block: **%s** (%s, base %s)\n", p.Name, p.Role, Lakh(p.BasePrice))
		if leader, ok := snap.Team(snap.SelectedTeamID); ok {
			fmt.Fprintf(&b, "Current bid: **%s** by %s\n", Lakh(snap.CurrentBid), leader.Name)
		} else {
			fmt.Fprintf(&b, "No bids yet. Asking %s\n", Lakh(snap.NextBid))
		}
	case snap.CanStartRound2:
		b.WriteString("Round 1 is done. Unsold players can go again in round 2.\n")
	default:
		b.WriteString("Waiting for the next player.\n")
	}

	for i, t := range snap.Teams {
		fmt.Fprintf(&b, "%d. %s: %s left, %d/%d players\n",
			i+1, t.ShortName, Lakh(t.RemainingBudget), len(t.Roster), t.Config.MaxPlayers)
	}
	return b.String()
}

// FormatSquad lists a team's purchases for /auction-squad.
func FormatSquad(t auction.TeamView) string {
	var b strings.Builder
	fmt.Fprintf(&b, "**%s** (%s)\n", t.Name, t.ShortName)
	fmt.Fprintf(&b, "Purse: %s of %s · Players: %d/%d · Max bid: %s\n",
		Lakh(t.RemainingBudget), Lakh(t.Config.TotalBudget), len(t.Roster), t.Config.MaxPlayers, Lakh(t.MaxBid))
	if len(t.Roster) == 0 {
		b.WriteString("No players bought yet.\n")
		return b.String()
	}
	for _, p := range t.Roster {
		fmt.Fprintf(&b, "- %s (%s) %s\n", p.Name, p.Role, Lakh(p.Amount))
	}
	return b.String()
}

// confirmation is the reply to a command that was applied.
func confirmation(cmd command.Command, snap auction.Snapshot) string {
	switch cmd.(type) {
	case command.NextPlayer, command.RandomPlayer:
		if p := snap.CurrentPlayer; p != nil {
			return fmt.Sprintf("Now up: **%s** (%s), base %s", p.Name, p.Role, Lakh(p.BasePrice))
		}
	case command.BidNext, command.PlaceBid:
		if t, ok := snap.Team(snap.SelectedTeamID); ok {
			return fmt.Sprintf("Bid %s by %s", Lakh(snap.CurrentBid), t.Name)
		}
	case command.MarkSold:
		if n := len(snap.Sold); n > 0 {
			s := snap.Sold[n-1]
			return fmt.Sprintf("SOLD: **%s** to %s for %s", s.Name, s.TeamName, Lakh(s.Amount))
		}
	case command.MarkUnsold:
		if n := len(snap.Unsold); n > 0 {
			return fmt.Sprintf("UNSOLD: **%s**", snap.Unsold[n-1].Name)
		}
	case command.Undo:
		return "Last decision undone."
	case command.StartRound2:
		return fmt.Sprintf("Round 2 started with %d players.", len(snap.Available))
	}
	return "Done."
}
