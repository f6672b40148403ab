// Package filter translates slider updates into a layer's composed effect
// stack.
//
// Each tool writes (or clears) one or more fixed slots of the target
// layer's domain.FilterSlotTable. After every update the full stack is
// rebuilt from the present slots in canonical slot order and handed to a
// Baker. Updates overwrite their slots, so applying the same update twice
// leaves the table and stack unchanged, and updates to one tool never touch
// another tool's slots.
//
// Normalization is per tool:
//
//	tool        input      slots                                 effect
//	brightness  [-100,100] brightness                            brightness v/100
//	contrast    [-100,100] contrast                              contrast v/100
//	saturation  [-100,100] saturation                            saturation v/100
//	highlights  [-100,100] highlights-bright, highlights-contrast brightness v/100*0.5, contrast v/100*0.25
//	shadows     [-100,100] shadows-bright, shadows-contrast      brightness v/100*0.4, contrast v/100*-0.2
//	sharpen     [0,100]    sharpen                               3x3 convolution, amount v/100
//	warm        [-100,100] warm                                  color matrix, warmth v/100
//	vintage     [0,100]    vintage                               sepia v/100
//	grain       [0,100]    grain                                 noise v*3
//	blur        [0,100]    blur                                  blur v/100
//
// Input is clamped into the tool's range. Tools whose range starts at zero
// clear their slot at values <= 0 instead of writing a no-op effect.
package filter
